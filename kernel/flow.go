package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/softpos-oss/l2engine/castore"
	"github.com/softpos-oss/l2engine/config"
	"github.com/softpos-oss/l2engine/internal/obs"
	"github.com/softpos-oss/l2engine/script"
	"github.com/softpos-oss/l2engine/statemachine"
	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/torntxn"
	"github.com/softpos-oss/l2engine/transceiver"
)

// OnlineAuthorizer is the external collaborator that carries an
// Authorization Request to the issuer host and returns its decision, per
// EMV step 11.
type OnlineAuthorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (OnlineResponse, error)
}

// SessionKeys supplies the ICC session key material GENERATE AC, ARQC and
// ARPC verification need. A real deployment derives these from the
// recovered IMK and the card's raw PAN/PSN tags via internal/cryptoprim;
// tests can substitute a fixed key.
type SessionKeys interface {
	ApplicationCryptogramKey(pan, psn, atc []byte) ([]byte, error)
}

// Transaction bundles every shared dependency a Run call needs. Card and
// Brand are required. The rest may be nil: without Config the defaults
// apply, without CAStore offline data authentication is not performed,
// without Authorizer an ARQC ends the application instead of going
// online, and TornTable, SessionKeys, Log and Metrics are skipped.
type Transaction struct {
	Card        transceiver.Card
	Brand       Brand
	CAStore     *castore.Store
	TornTable   *torntxn.Table
	Config      *config.Kernel
	Authorizer  OnlineAuthorizer
	SessionKeys SessionKeys
	Log         *logrus.Entry
	Metrics     *obs.Metrics
}

// RunResult is everything worth reporting to the caller once a
// transaction reaches a terminal outcome.
type RunResult struct {
	Outcome statemachine.Outcome
	Data    *CardData

	// TraceID correlates this run's log lines and, when it goes online,
	// its AuthorizationRequest.TerminalTraceID. It never reaches the
	// card or the EMV wire format.
	TraceID string
}

// Run drives one contactless transaction end to end: application
// selection, GPO, record reading, ODA, processing restrictions, CVM,
// terminal risk management, terminal action analysis, GENERATE AC, and
// (on ARQC) the online round trip with issuer scripts, per EMV.
// It returns once the embedded state machine reaches TerminalOutcome.
func (t *Transaction) Run(ctx context.Context, in TerminalInput) RunResult {
	started := time.Now()
	traceID := uuid.NewString()
	if t.Log != nil {
		t.Log = t.Log.WithField("trace_id", traceID)
	}
	sm := statemachine.New(t.Log)
	if t.Config != nil {
		sm.SetTimeout(statemachine.TimerWaitForCard, t.Config.WaitForCardTimeout)
		sm.SetTimeout(statemachine.TimerPerCommand, t.Config.PerCommandTimeout)
		sm.SetTimeout(statemachine.TimerOverall, t.Config.OverallTimeout)
		sm.SetTimeout(statemachine.TimerOnlineResponse, t.Config.OnlineResponseTimeout)
		sm.SetMaxTryAgainAttempts(t.Config.MaxTryAgainAttempts)
	}

	data := NewCardData()
	outcome, err := t.run(ctx, sm, data, in, traceID)
	if err != nil {
		outcome = sm.Abort(err.Error())
	}
	t.Metrics.ObserveOutcome(outcome.Kind.String(), t.Brand.Name(), started)
	return RunResult{Outcome: outcome, Data: data, TraceID: traceID}
}

func (t *Transaction) run(ctx context.Context, sm *statemachine.Machine, data *CardData, in TerminalInput, traceID string) (statemachine.Outcome, error) {
	if err := transition(sm, statemachine.WaitingForCard); err != nil {
		return statemachine.Outcome{}, err
	}
	if !t.Card.Present() {
		out := sm.CardRemoved()
		t.recordTorn(out, data, nil, time.Now())
		return *out, nil
	}
	if err := transition(sm, statemachine.CardDetected); err != nil {
		return statemachine.Outcome{}, err
	}

	if err := BuildTerminalData(data, in); err != nil {
		return statemachine.Outcome{}, err
	}
	qualifiers := t.Brand.BuildQualifiers(TransactionContext{
		Amount:           in.AmountAuthorized,
		CVMRequiredLimit: t.cvmLimit(),
		OnlineCapable:    true,
	})
	for tag, value := range qualifiers {
		data.Set(tag, value)
	}

	if err := transition(sm, statemachine.SelectingApplication); err != nil {
		return statemachine.Outcome{}, err
	}
	aid, fci, err := t.selectApplication(ctx)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	data.Set(TagAID, aid)

	if err := transition(sm, statemachine.InitiatingApplication); err != nil {
		return statemachine.Outcome{}, err
	}
	pdolNode, _ := tlv.FindTag(fci, TagPDOL)
	pdolData, err := tlv.BuildDOL(pdolNode.Value, data)
	if err != nil {
		return statemachine.Outcome{}, errors.Wrap(err, "kernel: building PDOL data")
	}
	gpoResp, err := t.Card.Transceive(ctx, transceiver.GetProcessingOptions(pdolData))
	if err != nil {
		return statemachine.Outcome{}, err
	}
	if !gpoResp.SW.IsSuccess() {
		return statemachine.Outcome{Kind: statemachine.OutcomeEndApplication, Reason: "GPO failed: " + gpoResp.SW.String()}, nil
	}
	gpo, err := ParseGPOResponse(gpoResp.Data)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	data.Set(TagAIP, gpo.AIP[:])
	data.Set(TagAFL, gpo.AFL)
	if gpo.Track2 != nil {
		data.Set(TagTrack2, gpo.Track2)
	}

	if err := transition(sm, statemachine.ReadingApplicationData); err != nil {
		return statemachine.Outcome{}, err
	}
	afl, err := tlv.DecodeAFL(gpo.AFL)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	readResult, err := ReadApplicationData(ctx, t.Card, afl, data)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	t.checkTornRecovery(data, gpo.ATC)

	if err := transition(sm, statemachine.OfflineDataAuthentication); err != nil {
		return statemachine.Outcome{}, err
	}
	odaSt := t.performODA(data, gpo, readResult)

	if err := transition(sm, statemachine.ProcessingRestrictions); err != nil {
		return statemachine.Outcome{}, err
	}
	ApplyProcessingRestrictions(data, t.terminalAppVersion(), time.Now())

	if err := transition(sm, statemachine.CardholderVerification); err != nil {
		return statemachine.Outcome{}, err
	}
	cvm := SelectCVM(in.AmountAuthorized, t.cvmLimit(), gpo.AIP, gpo.CTQ, true, true)
	ApplyCVMResult(data, cvm)

	if err := transition(sm, statemachine.TerminalRiskManagement); err != nil {
		return statemachine.Outcome{}, err
	}
	if err := ApplyTerminalRiskManagement(data, in.AmountAuthorized, t.trmConfig()); err != nil {
		return statemachine.Outcome{}, err
	}

	if err := transition(sm, statemachine.TerminalActionAnalysis); err != nil {
		return statemachine.Outcome{}, err
	}
	decision := AnalyzeTerminalActions(*data.TVR(), t.actionCodes(data), true, t.forceOnline())
	if override, ok := t.Brand.EvaluateElectronicCash(data, in.AmountAuthorized); ok {
		decision = override
	}

	if err := transition(sm, statemachine.GeneratingCryptogram); err != nil {
		return statemachine.Outcome{}, err
	}
	cdol := data.MustGet(TagCDOL1)
	cda := decision == DecisionARQC
	acResult, err := IssueGenerateAC(ctx, t.Card, cdol, data, decision, cda, sm.MarkCryptogramRequested, sm.MarkCryptogramReturned)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	data.Set(TagCID, []byte{acResult.CID})
	if acResult.AC != nil {
		data.Set(TagAC, acResult.AC)
	}
	if cda && acResult.SDAD != nil {
		cdolData, _ := tlv.BuildDOL(cdol, data)
		t.verifyCDA(data, odaSt, readResult.StaticDataToAuthenticate, acResult, odaSt.issuerAlg.Sum(cdolData))
	}

	if !t.Card.Present() {
		if out := sm.CardRemoved(); out != nil {
			t.recordTorn(out, data, acResult.ATC, time.Now())
			return *out, nil
		}
	}

	switch acResult.Type {
	case CryptogramAAC:
		if err := transition(sm, statemachine.Complete); err != nil {
			return statemachine.Outcome{}, err
		}
		return statemachine.Outcome{Kind: statemachine.OutcomeDeclined, Reason: "card returned AAC"}, nil

	case CryptogramTC:
		if err := transition(sm, statemachine.Complete); err != nil {
			return statemachine.Outcome{}, err
		}
		return statemachine.Outcome{Kind: statemachine.OutcomeApproved}, nil

	case CryptogramARQC:
		return t.runOnline(ctx, sm, data, acResult, traceID)

	default:
		if err := transition(sm, statemachine.Complete); err != nil {
			return statemachine.Outcome{}, err
		}
		return statemachine.Outcome{Kind: statemachine.OutcomeEndApplication, Reason: "card returned AAR"}, nil
	}
}

func (t *Transaction) runOnline(ctx context.Context, sm *statemachine.Machine, data *CardData, acResult GenerateACResult, traceID string) (statemachine.Outcome, error) {
	if err := transition(sm, statemachine.OnlineAuthorization); err != nil {
		return statemachine.Outcome{}, err
	}
	if !t.Card.Present() {
		out := sm.CardRemoved()
		t.recordTorn(out, data, acResult.ATC, time.Now())
		return *out, nil
	}
	if t.Authorizer == nil {
		return statemachine.Outcome{Kind: statemachine.OutcomeEndApplication, Reason: "no online authorizer configured"}, nil
	}

	req := BuildAuthorizationRequest(data, acResult, [2]byte(data.MustGet(TagAIP)), data.MustGet(TagAID))
	req.TerminalTraceID = traceID
	resp, err := t.Authorizer.Authorize(ctx, req)
	if err != nil {
		return statemachine.Outcome{}, err
	}

	if t.SessionKeys != nil {
		sessionKey, kerr := t.SessionKeys.ApplicationCryptogramKey(data.MustGet(TagPAN), data.MustGet(TagPANSequenceNumber), acResult.ATC)
		if kerr == nil {
			_, _ = VerifyIssuerAuthentication(data, sessionKey, acResult.AC, resp, len(resp.CSU) > 0)
		}
	}

	if err := transition(sm, statemachine.IssuerScriptProcessing); err != nil {
		return statemachine.Outcome{}, err
	}
	for _, raw := range resp.ScriptsPreAC {
		cmds, perr := script.ParseScript71(raw)
		if perr != nil {
			continue
		}
		aborted := false
		script.ExecutePreAC(ctx, t.Card, cmds, t.Log, func() {
			aborted = true
			data.TVR().Set(4, tlv.TVRScriptFailedPreAC)
		})
		if aborted {
			break
		}
	}

	if err := transition(sm, statemachine.SecondGenerateAc); err != nil {
		return statemachine.Outcome{}, err
	}
	p1 := transceiver.GenACRequestAAC
	if resp.Approved {
		p1 = transceiver.GenACRequestTC
	}
	second, err := IssueGenerateAC(ctx, t.Card, data.MustGet(TagCDOL2), data, CryptogramDecision(p1), false, nil, nil)
	if err != nil {
		return statemachine.Outcome{}, err
	}
	if second.AC != nil {
		data.Set(TagAC, second.AC)
	}

	for _, raw := range resp.ScriptsPostAC {
		cmds, perr := script.ParseScript72(raw)
		if perr != nil {
			continue
		}
		script.ExecutePostAC(ctx, t.Card, cmds, t.Log)
	}

	if err := transition(sm, statemachine.Complete); err != nil {
		return statemachine.Outcome{}, err
	}
	if resp.Approved {
		return statemachine.Outcome{Kind: statemachine.OutcomeApproved}, nil
	}
	return statemachine.Outcome{Kind: statemachine.OutcomeDeclined, Reason: "issuer declined"}, nil
}

func (t *Transaction) selectApplication(ctx context.Context) (aid, fci []byte, err error) {
	for _, candidate := range t.Brand.AIDs() {
		resp, err := t.Card.Transceive(ctx, transceiver.Select(candidate))
		if err != nil {
			return nil, nil, err
		}
		if resp.SW.IsSuccess() {
			return candidate, resp.Data, nil
		}
	}
	return nil, nil, errors.New("kernel: no supported application found")
}

func (t *Transaction) cvmLimit() int64 {
	if t.Config != nil {
		return t.Config.CVMRequiredLimit
	}
	return 0
}

func (t *Transaction) trmConfig() TRMConfig {
	if t.Config == nil {
		return TRMConfig{}
	}
	return TRMConfig{
		FloorLimit:                  t.Config.FloorLimit,
		ContactlessTransactionLimit: t.Config.ContactlessTransactionLimit,
		RandomSelectionPercent:      t.Config.RandomSelectionPercent,
		ForceOnline:                 t.Config.ForceOnline,
	}
}

func (t *Transaction) forceOnline() bool {
	return t.Config != nil && t.Config.ForceOnline
}

func (t *Transaction) terminalAppVersion() [2]byte {
	if t.Config != nil {
		return t.Config.TerminalApplicationVersion
	}
	return config.DefaultTerminalApplicationVersion
}

// checkTornRecovery logs when this tap's PAN and GPO-reported ATC match a
// previously recorded torn transaction, so an operator can see recovery
// taps distinguished from fresh sales. It does not alter the outcome: the
// card, not the terminal, decides whether to resubmit the same ARQC.
func (t *Transaction) checkTornRecovery(data *CardData, gpoATC []byte) {
	if t.TornTable == nil || len(gpoATC) == 0 {
		return
	}
	pan, ok := data.Get(TagPAN)
	if !ok {
		return
	}
	if t.TornTable.IsRecoveryAttempt(torntxn.HashPAN(string(pan)), atcToUint16(gpoATC), time.Now()) {
		if t.Log != nil {
			t.Log.Info("kernel: recognized torn transaction recovery tap")
		}
	}
}

// recordTorn records a torn-transaction entry when out reports
// OutcomeTornTransaction, so a later tap from the same card can be
// recognized by checkTornRecovery as a recovery attempt rather than a
// fresh sale.
func (t *Transaction) recordTorn(out *statemachine.Outcome, data *CardData, atc []byte, now time.Time) {
	if t.TornTable == nil || out == nil || out.Kind != statemachine.OutcomeTornTransaction {
		return
	}
	pan, ok := data.Get(TagPAN)
	if !ok {
		return
	}
	t.TornTable.Record(torntxn.HashPAN(string(pan)), atcToUint16(atc), now)
}

func atcToUint16(atc []byte) uint16 {
	if len(atc) < 2 {
		return 0
	}
	return uint16(atc[0])<<8 | uint16(atc[1])
}

func (t *Transaction) actionCodes(data *CardData) ActionCodes {
	codes := ActionCodes{
		IACDenial: iac5(data.MustGet(TagIssuerActionCodeDenial)),
		IACOnline: iac5(data.MustGet(TagIssuerActionCodeOnline)),
		IACDflt:   iac5(data.MustGet(TagIssuerActionCodeDflt)),
	}
	if t.Config != nil {
		codes.TACDenial = t.Config.TACDenial
		codes.TACOnline = t.Config.TACOnline
		codes.TACDflt = t.Config.TACDflt
	}
	return codes
}

func iac5(raw []byte) [5]byte {
	var out [5]byte
	copy(out[:], raw)
	return out
}

func transition(sm *statemachine.Machine, to statemachine.State) error {
	return sm.Transition(to)
}
