package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verdanterra/fieldnode/breaker"
)

// Transport performs the external request; implementations must enforce a
// hard timeout so a stuck endpoint cannot stall the measurement loop.
type Transport interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
}

// Identity describes this node towards the remote processor.
type Identity struct {
	DeviceID string
	Zone     string
	Firmware string
}

// Request is the outbound raw-value payload.
type Request struct {
	DeviceID   string   `json:"device_id"`
	GPIO       int      `json:"gpio"`
	SensorType string   `json:"sensor_type"`
	RawValue   float64  `json:"raw_value"`
	Timestamp  int64    `json:"timestamp"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata carries request context the processor may use for calibration.
type Metadata struct {
	Zone      string `json:"zone,omitempty"`
	Subzone   string `json:"subzone,omitempty"`
	RequestID string `json:"request_id"`
	Firmware  string `json:"firmware,omitempty"`
}

// Response is the inbound processed payload. ProcessedValue is a pointer so
// its absence can be told apart from a literal zero.
type Response struct {
	ProcessedValue *float64 `json:"processed_value"`
	Unit           string   `json:"unit"`
	Quality        string   `json:"quality"`
	Timestamp      int64    `json:"timestamp"`
}

// Processed is the outcome of one offload call. Valid is false when the
// breaker rejected the call, the transport failed, or the response did not
// parse; Err then carries the diagnostic.
type Processed struct {
	Value     float64
	Unit      string
	Quality   string
	Timestamp int64
	Valid     bool
	Err       string
}

// OffloadClient converts raw sensor readings into processed values by
// delegating to the remote compute node, guarded by a circuit breaker.
type OffloadClient struct {
	transport Transport
	breaker   *breaker.Breaker
	identity  Identity
	logger    zerolog.Logger
}

// NewOffloadClient wires the transport and breaker together.
func NewOffloadClient(transport Transport, b *breaker.Breaker, identity Identity, logger zerolog.Logger) *OffloadClient {
	return &OffloadClient{
		transport: transport,
		breaker:   b,
		identity:  identity,
		logger:    logger.With().Str("component", "offload").Logger(),
	}
}

// Process ships one raw value to the remote processor. When the breaker is
// open the call returns immediately without any network attempt.
func (c *OffloadClient) Process(ctx context.Context, pin int, sensorType string, raw float64, ts time.Time, subzone string) Processed {
	if !c.breaker.Allow() {
		return Processed{Valid: false, Err: breaker.ErrOpen.Error()}
	}

	req := Request{
		DeviceID:   c.identity.DeviceID,
		GPIO:       pin,
		SensorType: sensorType,
		RawValue:   raw,
		Timestamp:  ts.Unix(),
		Metadata: Metadata{
			Zone:      c.identity.Zone,
			Subzone:   subzone,
			RequestID: uuid.NewString(),
			Firmware:  c.identity.Firmware,
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		// Marshalling a plain struct cannot fail at runtime; treat it as a
		// client bug rather than a remote failure.
		return Processed{Valid: false, Err: fmt.Sprintf("encode request: %v", err)}
	}

	body, err := c.transport.Request(ctx, payload)
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn().Err(err).Int("pin", pin).Str("sensor_type", sensorType).Msg("offload request failed")
		return Processed{Valid: false, Err: fmt.Sprintf("offload request: %v", err)}
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		c.breaker.RecordFailure()
		return Processed{Valid: false, Err: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.ProcessedValue == nil {
		c.breaker.RecordFailure()
		return Processed{Valid: false, Err: "response missing processed_value"}
	}

	c.breaker.RecordSuccess()
	return Processed{
		Value:     *resp.ProcessedValue,
		Unit:      resp.Unit,
		Quality:   resp.Quality,
		Timestamp: resp.Timestamp,
		Valid:     true,
	}
}

// BreakerState exposes the guarding breaker state for diagnostics.
func (c *OffloadClient) BreakerState() breaker.State {
	return c.breaker.State()
}
