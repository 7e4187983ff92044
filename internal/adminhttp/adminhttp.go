// Package adminhttp exposes the CA store admin, revocation admin and
// health/metrics operations over a github.com/go-chi/chi/v5 router, in
// a JSON-handler style kept off the transaction-critical path.
package adminhttp

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softpos-oss/l2engine/castore"
)

// Server bundles the collaborators the admin surface reads from and
// writes to.
type Server struct {
	CAStore    *castore.Store
	Revocation *castore.RevocationChecker
}

// Router builds the chi router: /healthz, /metrics, and the CA key /
// revocation admin endpoints under /admin.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/ca-keys/{rid}", s.handleListCAKeys)
		r.Post("/ca-keys", s.handleAddCAKey)
		r.Post("/revoked-ca-keys", s.handleAddRevokedCAKey)
		r.Get("/revocation/{rid}/{index}", s.handleCheckRevocation)
		r.Get("/revocation/stats", s.handleRevocationStats)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type caKeyDTO struct {
	RID      string `json:"rid"`
	Index    int    `json:"index"`
	Modulus  string `json:"modulus_hex"`
	Exponent uint32 `json:"exponent"`
	Hash     string `json:"hash"`
	Expiry   string `json:"expiry"` // RFC3339
	TestFlag bool   `json:"test_flag"`
}

func (s *Server) handleListCAKeys(w http.ResponseWriter, r *http.Request) {
	rid := chi.URLParam(r, "rid")
	keys := s.CAStore.KeysForRID(rid)
	out := make([]caKeyDTO, 0, len(keys))
	for _, k := range keys {
		out = append(out, caKeyDTO{
			RID:      k.RID,
			Index:    int(k.Index),
			Exponent: k.Exponent,
			Hash:     string(k.Hash),
			Expiry:   k.Expiry.Format(time.RFC3339),
			TestFlag: k.TestFlag,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddCAKey(w http.ResponseWriter, r *http.Request) {
	var dto caKeyDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	modulus, err := hex.DecodeString(dto.Modulus)
	if err != nil {
		http.Error(w, "invalid modulus_hex: "+err.Error(), http.StatusBadRequest)
		return
	}
	expiry, err := time.Parse(time.RFC3339, dto.Expiry)
	if err != nil {
		http.Error(w, "invalid expiry: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.CAStore.AddKey(castore.CaPublicKey{
		RID:      dto.RID,
		Index:    byte(dto.Index),
		Modulus:  modulus,
		Exponent: dto.Exponent,
		Hash:     castore.HashAlgName(dto.Hash),
		Expiry:   expiry,
		TestFlag: dto.TestFlag,
	})
	w.WriteHeader(http.StatusNoContent)
}

type revokeRequest struct {
	RID    string `json:"rid"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (s *Server) handleAddRevokedCAKey(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Revocation.AddRevokedCAKey(req.RID, byte(req.Index), req.Reason, time.Time{})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckRevocation(w http.ResponseWriter, r *http.Request) {
	rid := chi.URLParam(r, "rid")
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	online := r.URL.Query().Get("online") == "true"
	status := s.Revocation.CheckCAKeyRevocation(rid, byte(idx), online)
	writeJSON(w, http.StatusOK, map[string]string{"status": status.String()})
}

func (s *Server) handleRevocationStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Revocation.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
