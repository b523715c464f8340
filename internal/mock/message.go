package mock

import (
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/envelope"
)

// Frame encodes msg as a broker.Frame, for tests that need to hand a
// Server or PreProcessor a realistic inbound delivery via Adapter.Deliver
// without going through a real broker connection.
func Frame(msg *envelope.Envelope) (broker.Frame, error) {
	wm, err := envelope.Encode(msg)
	if err != nil {
		return broker.Frame{}, err
	}
	return broker.Frame{Headers: wm.Headers, Body: wm.Body}, nil
}
