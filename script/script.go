// Package script implements issuer script authentication and execution
// (EMV step 11): pre-AC scripts abort the transaction on SW
// 6985, post-AC scripts never abort.
package script

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

// Command is one issuer script command, a raw APDU plus an identifier for
// logging/result reporting.
type Command struct {
	Index int
	APDU  []byte
}

// Result is the per-command outcome of executing a script.
type Result struct {
	Index   int
	SW      transceiver.StatusWord
	Aborted bool
	Err     error
}

// ParseScript71 decodes tag 71 (script, pre-AC): one or more tag 86
// command templates, each carrying one raw command APDU.
func ParseScript71(raw []byte) ([]Command, error) {
	return parseScriptCommands(raw)
}

// ParseScript72 decodes tag 72 (script, post-AC) identically to tag 71;
// only the execution abort policy differs between the two.
func ParseScript72(raw []byte) ([]Command, error) {
	return parseScriptCommands(raw)
}

func parseScriptCommands(raw []byte) ([]Command, error) {
	nodes, err := tlv.ParseRecursive(raw)
	if err != nil {
		return nil, errors.Wrap(err, "script: parsing script template")
	}
	var commands []Command
	index := 0
	var collect func(ns []tlv.Node)
	collect = func(ns []tlv.Node) {
		for _, n := range ns {
			if n.Tag == 0x86 {
				commands = append(commands, Command{Index: index, APDU: n.Value})
				index++
			}
			if len(n.Children) > 0 {
				collect(n.Children)
			}
		}
	}
	collect(nodes)
	return commands, nil
}

func commandAPDUFromRaw(raw []byte) (transceiver.CommandAPDU, error) {
	if len(raw) < 4 {
		return transceiver.CommandAPDU{}, errors.New("script: command APDU too short")
	}
	cmd := transceiver.CommandAPDU{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	if len(raw) > 4 {
		declaredLen := int(raw[4])
		if len(raw) >= 5+declaredLen {
			cmd.Data = raw[5 : 5+declaredLen]
		}
	}
	return cmd, nil
}

// ExecutePreAC runs commands (from tag 71) in order, aborting the whole
// script the first time a command returns SW 6985 and flagging that via
// onAbort, per EMV step 11.
func ExecutePreAC(ctx context.Context, card transceiver.Card, commands []Command, log *logrus.Entry, onAbort func()) []Result {
	results := make([]Result, 0, len(commands))
	for _, c := range commands {
		res := executeOne(ctx, card, c, log)
		results = append(results, res)
		if res.SW == transceiver.SWConditionsNotSat {
			res.Aborted = true
			results[len(results)-1] = res
			if onAbort != nil {
				onAbort()
			}
			break
		}
		if res.Err != nil {
			break
		}
	}
	return results
}

// ExecutePostAC runs commands (from tag 72) in order; no command failure
// aborts the sequence, per EMV step 11.
func ExecutePostAC(ctx context.Context, card transceiver.Card, commands []Command, log *logrus.Entry) []Result {
	results := make([]Result, 0, len(commands))
	for _, c := range commands {
		results = append(results, executeOne(ctx, card, c, log))
	}
	return results
}

func executeOne(ctx context.Context, card transceiver.Card, c Command, log *logrus.Entry) Result {
	cmd, err := commandAPDUFromRaw(c.APDU)
	if err != nil {
		return Result{Index: c.Index, Err: err}
	}
	resp, err := card.Transceive(ctx, cmd)
	if err != nil {
		if log != nil {
			log.WithError(err).WithField("index", c.Index).Warn("issuer script command failed to transceive")
		}
		return Result{Index: c.Index, Err: err}
	}
	if log != nil {
		log.WithFields(logrus.Fields{"index": c.Index, "sw": resp.SW.String()}).Trace("issuer script command executed")
	}
	return Result{Index: c.Index, SW: resp.SW}
}
