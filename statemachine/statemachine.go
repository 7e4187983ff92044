// Package statemachine implements the passive kernel state driver of
// EMV: an allow-listed transition table, four independent
// timers each armed with its own deadline (grounded on the
// check-ticker/deadline-comparison style of session/tcp.go), and the
// card-removal and cancellation semantics every brand kernel shares.
package statemachine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is one node of the kernel's allow-listed transition graph.
type State int

const (
	Idle State = iota
	WaitingForCard
	CardDetected
	SelectingApplication
	InitiatingApplication
	ReadingApplicationData
	OfflineDataAuthentication
	ProcessingRestrictions
	CardholderVerification
	TerminalRiskManagement
	TerminalActionAnalysis
	GeneratingCryptogram
	OnlineAuthorization
	IssuerScriptProcessing
	SecondGenerateAc
	Complete
	TerminalOutcome
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingForCard:
		return "WaitingForCard"
	case CardDetected:
		return "CardDetected"
	case SelectingApplication:
		return "SelectingApplication"
	case InitiatingApplication:
		return "InitiatingApplication"
	case ReadingApplicationData:
		return "ReadingApplicationData"
	case OfflineDataAuthentication:
		return "OfflineDataAuthentication"
	case ProcessingRestrictions:
		return "ProcessingRestrictions"
	case CardholderVerification:
		return "CardholderVerification"
	case TerminalRiskManagement:
		return "TerminalRiskManagement"
	case TerminalActionAnalysis:
		return "TerminalActionAnalysis"
	case GeneratingCryptogram:
		return "GeneratingCryptogram"
	case OnlineAuthorization:
		return "OnlineAuthorization"
	case IssuerScriptProcessing:
		return "IssuerScriptProcessing"
	case SecondGenerateAc:
		return "SecondGenerateAc"
	case Complete:
		return "Complete"
	case TerminalOutcome:
		return "TerminalOutcome"
	default:
		return "Unknown"
	}
}

// allowed is the transition table of EMV. Every state may also
// reach TerminalOutcome; that edge is checked separately in CanTransition
// rather than repeated in every row.
var allowed = map[State][]State{
	Idle:                      {WaitingForCard},
	WaitingForCard:            {CardDetected},
	CardDetected:              {SelectingApplication},
	SelectingApplication:      {InitiatingApplication},
	InitiatingApplication:     {ReadingApplicationData},
	ReadingApplicationData:    {OfflineDataAuthentication},
	OfflineDataAuthentication: {ProcessingRestrictions},
	ProcessingRestrictions:    {CardholderVerification},
	CardholderVerification:    {TerminalRiskManagement},
	TerminalRiskManagement:    {TerminalActionAnalysis},
	TerminalActionAnalysis:    {GeneratingCryptogram},
	GeneratingCryptogram:      {Complete, OnlineAuthorization},
	OnlineAuthorization:       {IssuerScriptProcessing, Complete},
	IssuerScriptProcessing:    {SecondGenerateAc, Complete},
	SecondGenerateAc:          {Complete},
}

// CanTransition reports whether to is a legal next state from from. Every
// state can additionally reach TerminalOutcome at any time; Complete and
// TerminalOutcome have no outgoing edges.
func CanTransition(from, to State) bool {
	if to == TerminalOutcome && from != Complete && from != TerminalOutcome {
		return true
	}
	for _, candidate := range allowed[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// OutcomeKind enumerates the eight terminal outcomes of EMV.
type OutcomeKind int

const (
	OutcomeApproved OutcomeKind = iota
	OutcomeDeclined
	OutcomeOnlineRequest
	OutcomeEndApplication
	OutcomeTryAnotherInterface
	OutcomeTryAgain
	OutcomeSelectNext
	OutcomeTornTransaction
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeApproved:
		return "Approved"
	case OutcomeDeclined:
		return "Declined"
	case OutcomeOnlineRequest:
		return "OnlineRequest"
	case OutcomeEndApplication:
		return "EndApplication"
	case OutcomeTryAnotherInterface:
		return "TryAnotherInterface"
	case OutcomeTryAgain:
		return "TryAgain"
	case OutcomeSelectNext:
		return "SelectNext"
	case OutcomeTornTransaction:
		return "TornTransaction"
	default:
		return "Unknown"
	}
}

// Outcome is the terminal result a transaction concludes with.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Data   map[string]interface{}
}

// TimerKind identifies one of the four independent timers of EMV
// §4.6.
type TimerKind int

const (
	TimerWaitForCard TimerKind = iota
	TimerPerCommand
	TimerOverall
	TimerOnlineResponse
	timerCount
)

// Defaults per EMV.
const (
	DefaultWaitForCard    = 60 * time.Second
	DefaultPerCommand     = 3 * time.Second
	DefaultOverall        = 30 * time.Second
	DefaultOnlineResponse = 45 * time.Second

	// DefaultMaxTryAgainAttempts bounds the retry counter of the
	// card-removal-before-GenerateAC rule.
	DefaultMaxTryAgainAttempts = 3
)

type timerState struct {
	deadline time.Time
	seq      uint64
	armed    bool
}

// Machine drives one transaction's state and timers. Not safe for
// concurrent use by more than one goroutine, matching the
// single-threaded-cooperative-per-transaction scheduling model of
// EMV; the embedding kernel serializes all calls.
type Machine struct {
	mu sync.Mutex

	state State

	timers       [timerCount]timerState
	nextSeq      uint64
	durations    [timerCount]time.Duration
	tryAgainLeft int

	cryptogramRequested bool
	cryptogramReturned  bool
	aborted             bool

	outcome *Outcome

	log *logrus.Entry
}

// New constructs a Machine in Idle with default timer durations and retry
// budget. Pass a nil logger to get a discard logger.
func New(log *logrus.Entry) *Machine {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	m := &Machine{
		state:        Idle,
		tryAgainLeft: DefaultMaxTryAgainAttempts,
		log:          log,
	}
	m.durations[TimerWaitForCard] = DefaultWaitForCard
	m.durations[TimerPerCommand] = DefaultPerCommand
	m.durations[TimerOverall] = DefaultOverall
	m.durations[TimerOnlineResponse] = DefaultOnlineResponse
	return m
}

// SetTimeout overrides the default duration for kind.
func (m *Machine) SetTimeout(kind TimerKind, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[kind] = d
}

// SetMaxTryAgainAttempts overrides the default retry budget.
func (m *Machine) SetMaxTryAgainAttempts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tryAgainLeft = n
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Outcome returns the terminal outcome, if one has been reached.
func (m *Machine) Outcome() (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		return Outcome{}, false
	}
	return *m.outcome, true
}

// Transition moves the machine from its current state to to, rejecting
// the move if it is not in the allow-list.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if m.aborted && to != TerminalOutcome {
		return errAborted
	}
	if !CanTransition(m.state, to) {
		return &InvalidTransitionError{From: m.state, To: to}
	}
	m.log.WithFields(logrus.Fields{"from": m.state.String(), "to": to.String()}).Trace("kernel state transition")
	m.state = to
	if to == GeneratingCryptogram {
		m.cryptogramRequested = false
		m.cryptogramReturned = false
	}
	return nil
}

// MarkCryptogramRequested records that GENERATE AC has been sent to the
// card but no response has been parsed yet; used by card-removal and
// cancellation semantics to decide between TryAgain/TornTransaction.
func (m *Machine) MarkCryptogramRequested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cryptogramRequested = true
}

// MarkCryptogramReturned records that a cryptogram response was received.
func (m *Machine) MarkCryptogramReturned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cryptogramReturned = true
}

// ArmTimer starts kind with its configured duration from now, replacing
// any earlier deadline for that kind, and returns the sequence number
// assigned to this arming. CheckExpired compares deadlines only and does
// not consult the returned number.
func (m *Machine) ArmTimer(kind TimerKind, now time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	seq := m.nextSeq
	m.timers[kind] = timerState{deadline: now.Add(m.durations[kind]), seq: seq, armed: true}
	return seq
}

// Disarm cancels kind; CheckExpired stops reporting it until it is armed
// again.
func (m *Machine) Disarm(kind TimerKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[kind].armed = false
}

// CheckExpired reports which armed timers have passed their deadline as
// of now, matching session/tcp.go's single-ticker deadline-comparison
// loop rather than one OS timer per logical timeout.
func (m *Machine) CheckExpired(now time.Time) []TimerKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []TimerKind
	for k := TimerKind(0); k < timerCount; k++ {
		t := m.timers[k]
		if t.armed && !now.Before(t.deadline) {
			expired = append(expired, k)
		}
	}
	return expired
}

// CardRemoved applies the card-removal semantics of EMV and
// always returns a terminal outcome: TryAgain still ends this attempt,
// even though the caller is expected to start a fresh one while its
// retry budget remains.
func (m *Machine) CardRemoved() *Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == OnlineAuthorization || m.state == SecondGenerateAc:
		return m.setOutcomeLocked(OutcomeTornTransaction, "card removed during online/second-generate-ac")
	case m.cryptogramRequested && !m.cryptogramReturned:
		return m.setOutcomeLocked(OutcomeTornTransaction, "card removed after GENERATE AC requested")
	case m.cryptogramReturned:
		return m.setOutcomeLocked(OutcomeOnlineRequest, "card removed after cryptogram returned")
	default:
		// Removed before GENERATE AC was sent: retry, bounded.
		if m.tryAgainLeft <= 0 {
			return m.setOutcomeLocked(OutcomeEndApplication, "card removed, retry budget exhausted")
		}
		m.tryAgainLeft--
		out := m.setOutcomeLocked(OutcomeTryAgain, "card removed before GENERATE AC")
		return out
	}
}

// Abort implements EMV's idempotent abort(reason): cancels all
// timers and maps to TornTransaction if a cryptogram was requested but
// not yet returned, else EndApplication. A second call is a no-op and
// returns the outcome already recorded.
func (m *Machine) Abort(reason string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aborted {
		return *m.outcome
	}
	m.aborted = true
	for k := range m.timers {
		m.timers[k].armed = false
	}

	if m.cryptogramRequested && !m.cryptogramReturned {
		return *m.setOutcomeLocked(OutcomeTornTransaction, reason)
	}
	return *m.setOutcomeLocked(OutcomeEndApplication, reason)
}

func (m *Machine) setOutcomeLocked(kind OutcomeKind, reason string) *Outcome {
	m.state = TerminalOutcome
	m.outcome = &Outcome{Kind: kind, Reason: reason}
	return m.outcome
}

// InvalidTransitionError is returned by Transition for a move not present
// in the allow-list.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return "statemachine: illegal transition from " + e.From.String() + " to " + e.To.String()
}

var errAborted = &abortedError{}

type abortedError struct{}

func (*abortedError) Error() string { return "statemachine: machine already aborted" }
