package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementTransmission is the measurement name for radio transmissions.
const MeasurementTransmission = "radio_transmission"

// Transmission is one device transition as recorded in InfluxDB.
type Transmission struct {
	Device  string
	On      bool
	Source  string
	Repeats int
	Elapsed time.Duration
	OK      bool
	At      time.Time
}

// NewTransmissionPoint converts t into a point.
//
// Tags stay low-cardinality (device, state, source); timings and outcome are
// fields.
func NewTransmissionPoint(t Transmission) *write.Point {
	state := "off"
	if t.On {
		state = "on"
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		MeasurementTransmission,
		map[string]string{
			"device": t.Device,
			"state":  state,
			"source": t.Source,
		},
		map[string]interface{}{
			"elapsed_ms": float64(t.Elapsed) / float64(time.Millisecond),
			"repeats":    t.Repeats,
			"ok":         t.OK,
		},
		at,
	)
}

// WriteTransmission queues a transmission point. The write is non-blocking;
// data is batched and sent asynchronously. Dropped silently when not connected.
func (c *Client) WriteTransmission(t Transmission) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewTransmissionPoint(t))
}
