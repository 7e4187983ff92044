package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/softpos-oss/l2engine/tlv"
	"github.com/softpos-oss/l2engine/transceiver"
)

// ReadResult accumulates everything step 4 of EMVproduces: the
// record data absorbed into CardData, plus the concatenated payload of
// every record marked for static data authentication, in AFL order.
type ReadResult struct {
	StaticDataToAuthenticate []byte
}

// ReadApplicationData iterates every AFL entry, issuing READ RECORD for
// each record in its range, absorbing tag 70 record templates into data,
// and accumulating the first SignedRecords records' bodies (flattened)
// into the ODA hash input, per EMV step 4.
func ReadApplicationData(ctx context.Context, card transceiver.Card, afl []tlv.AFLEntry, data *CardData) (ReadResult, error) {
	var result ReadResult

	for _, entry := range afl {
		for record := entry.FirstRecord; record <= entry.LastRecord; record++ {
			cmd := transceiver.ReadRecord(byte(entry.SFI), byte(record))
			resp, err := card.Transceive(ctx, cmd)
			if err != nil {
				return result, errors.Wrapf(err, "kernel: READ RECORD sfi=%d record=%d", entry.SFI, record)
			}
			if !resp.SW.IsSuccess() {
				return result, errors.Errorf("kernel: READ RECORD sfi=%d record=%d returned %s", entry.SFI, record, resp.SW)
			}

			node, ok := tlv.FindTag(resp.Data, 0x70)
			body := resp.Data
			if ok {
				body = node.Value
				children, err := tlv.Parse(node.Value)
				if err != nil {
					return result, errors.Wrapf(err, "kernel: parsing record template sfi=%d record=%d", entry.SFI, record)
				}
				data.AbsorbNodes(children)
			} else {
				children, err := tlv.Parse(resp.Data)
				if err == nil {
					data.AbsorbNodes(children)
				}
			}

			// Only SFIs 1-10 ever contribute to the ODA hash input,
			// per EMV Book 3; SFIs above 10 hold card-risk-management
			// or proprietary data that is read but never signed.
			if entry.SFI <= 10 && record-entry.FirstRecord < entry.SignedRecords {
				result.StaticDataToAuthenticate = append(result.StaticDataToAuthenticate, body...)
			}
		}
	}
	return result, nil
}
