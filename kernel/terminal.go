package kernel

import (
	"crypto/rand"
	"time"

	"github.com/pkg/errors"
)

// TerminalInput is the caller-supplied transaction context: everything
// the terminal itself knows before the card is read.
type TerminalInput struct {
	AmountAuthorized int64 // minor currency units
	AmountOther      int64
	TransactionType  byte
	CountryCode      [2]byte // ISO 3166 numeric, BCD
	CurrencyCode     [2]byte // ISO 4217 numeric, BCD
	TerminalType     byte
	Capabilities     [3]byte
	AdditionalCaps   [5]byte
	Now              time.Time
}

// bcdAmount encodes amount (minor units) into 6-byte BCD, the 12-digit
// fixed field EMV step 1 requires.
func bcdAmount(amount int64) [6]byte {
	var out [6]byte
	for i := 5; i >= 0; i-- {
		out[i] = byte(amount%10) | byte(amount/10%10)<<4
		amount /= 100
	}
	return out
}

func bcdDate(t time.Time) [3]byte {
	y, m, d := t.Date()
	yy := y % 100
	return [3]byte{
		byte(yy/10)<<4 | byte(yy%10),
		byte(int(m)/10)<<4 | byte(int(m)%10),
		byte(d/10)<<4 | byte(d%10),
	}
}

func bcdTime(t time.Time) [3]byte {
	h, m, s := t.Clock()
	return [3]byte{
		byte(h/10)<<4 | byte(h%10),
		byte(m/10)<<4 | byte(m%10),
		byte(s/10)<<4 | byte(s%10),
	}
}

// unpredictableNumber returns 4 cryptographically random bytes, per
// EMV step 1.
func unpredictableNumber() ([4]byte, error) {
	var un [4]byte
	if _, err := rand.Read(un[:]); err != nil {
		return un, errors.Wrap(err, "kernel: generating unpredictable number")
	}
	return un, nil
}

// BuildTerminalData seeds data with every fixed terminal-side tag the DOL
// builder and later steps need, generating a fresh unpredictable number.
func BuildTerminalData(data *CardData, in TerminalInput) error {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	amount := bcdAmount(in.AmountAuthorized)
	other := bcdAmount(in.AmountOther)
	date := bcdDate(in.Now)
	tm := bcdTime(in.Now)
	un, err := unpredictableNumber()
	if err != nil {
		return err
	}

	data.Set(TagAmountAuthorized, amount[:])
	data.Set(TagAmountOther, other[:])
	data.Set(TagTransactionType, []byte{in.TransactionType})
	data.Set(TagTerminalCountryCode, in.CountryCode[:])
	data.Set(TagTransactionCurrency, in.CurrencyCode[:])
	data.Set(TagTransactionDate, date[:])
	data.Set(0x9F21, tm[:]) // transaction time
	data.Set(TagUnpredictableNumber, un[:])
	data.Set(TagTerminalType, []byte{in.TerminalType})
	data.Set(TagTerminalCapabilities, in.Capabilities[:])
	data.Set(TagAdditionalTermCaps, in.AdditionalCaps[:])
	return nil
}
