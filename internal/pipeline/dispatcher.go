package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/campfirevalley/riverboat/internal/campfire"
	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/store"
	"github.com/campfirevalley/riverboat/internal/telemetry"
)

// State names a box's position in the pipeline. Every box moves
// Received -> Unpacked -> Validated, then either Rejected or
// Dispatched -> Packed -> Done.
type State string

const (
	StateReceived   State = "received"
	StateUnpacked   State = "unpacked"
	StateValidated  State = "validated"
	StateRejected   State = "rejected"
	StateDispatched State = "dispatched"
	StatePacked     State = "packed"
	StateDone       State = "done"
)

// Fanout produces the aggregated camper response for a task.
// *campfire.Aggregator is the production implementation.
type Fanout interface {
	Process(ctx context.Context, task campfire.Task) (*envelope.CamperResponse, error)
}

// Dispatcher runs the full server-side pipeline. The delivery log may
// be nil: recording failures degrade to a metric and a warning, never
// to a failed box.
type Dispatcher struct {
	security SecurityValidator
	fanout   Fanout
	cache    *ResponseCache
	log      *store.Store
	logger   *slog.Logger
}

// NewDispatcher wires the pipeline. security and cache fall back to
// the pattern validator and the default-TTL cache when nil; fanout is
// required.
func NewDispatcher(security SecurityValidator, fanout Fanout, cache *ResponseCache, log *store.Store, logger *slog.Logger) *Dispatcher {
	if security == nil {
		security = NewPatternValidator()
	}
	if cache == nil {
		cache = NewResponseCache(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		security: security,
		fanout:   fanout,
		cache:    cache,
		log:      log,
		logger:   logger,
	}
}

// Process takes a raw inbound body through the whole pipeline and
// returns either a packed response box or a coded error. Security
// screening runs for every claim; there is no bypass path.
func (d *Dispatcher) Process(ctx context.Context, raw []byte) (*ResponseBox, *envelope.ErrorResponse) {
	started := time.Now()

	u, errResp := d.unpackStage(raw)
	if errResp != nil {
		telemetry.IncBox("unknown", string(StateRejected))
		return nil, errResp
	}
	logger := d.logger.With("box_id", u.BoxID, "claim", string(u.Claim))
	d.recordDelivery(ctx, u, string(StateReceived))

	if violation := d.securityStage(u); violation != nil {
		logger.Warn("party box rejected by security screen",
			"check", violation.Check, "detail", violation.Detail)
		telemetry.IncBox(string(u.Claim), string(StateRejected))
		d.updateDelivery(ctx, u.BoxID, "rejected")
		errResp := envelope.NewError(envelope.CodeSecurity, violation.Error(), false)
		return nil, errResp.WithDetail("check", violation.Check)
	}

	if resp, ok := d.cache.Get(u.Claim, u.Task); ok {
		telemetry.IncCacheHit()
		telemetry.IncBox(string(u.Claim), string(StateDone))
		d.updateDelivery(ctx, u.BoxID, "completed")
		logger.Info("served party box from cache", "elapsed", time.Since(started))
		return pack(u, resp, true), nil
	}
	telemetry.IncCacheMiss()

	resp, errResp := d.dispatchStage(ctx, u)
	if errResp != nil {
		telemetry.IncBox(string(u.Claim), "failed")
		d.updateDelivery(ctx, u.BoxID, "failed")
		return nil, errResp
	}

	if resp.ResponseType != envelope.TypeError {
		d.cache.Put(u.Claim, u.Task, resp)
	}
	d.recordReport(ctx, u, resp)

	packStart := time.Now()
	boxed := pack(u, resp, false)
	telemetry.ObserveStageDuration(string(StatePacked), time.Since(packStart))

	telemetry.IncBox(string(u.Claim), string(StateDone))
	d.updateDelivery(ctx, u.BoxID, "completed")
	logger.Info("party box processed",
		"response_type", string(resp.ResponseType),
		"files", len(resp.FilesToCreate),
		"commands", len(resp.CommandsToExecute),
		"elapsed", time.Since(started))
	return boxed, nil
}

func (d *Dispatcher) unpackStage(raw []byte) (*Unpacked, *envelope.ErrorResponse) {
	start := time.Now()
	u, errResp := unpack(raw)
	telemetry.ObserveStageDuration(string(StateUnpacked), time.Since(start))
	return u, errResp
}

func (d *Dispatcher) securityStage(u *Unpacked) *Violation {
	start := time.Now()
	violation := d.security.Check(u)
	telemetry.ObserveStageDuration(string(StateValidated), time.Since(start))
	if violation != nil {
		telemetry.IncSecurityRejection(violation.Check)
	}
	return violation
}

func (d *Dispatcher) dispatchStage(ctx context.Context, u *Unpacked) (*envelope.CamperResponse, *envelope.ErrorResponse) {
	start := time.Now()
	defer func() {
		telemetry.ObserveStageDuration(string(StateDispatched), time.Since(start))
	}()

	task := campfire.Task{
		Claim:         u.Claim,
		Task:          u.Task,
		OS:            u.OS,
		WorkspaceRoot: u.WorkspaceRoot,
		Context:       u.Context,
		Files:         u.Files,
	}
	resp, err := d.fanout.Process(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil, envelope.NewError(envelope.CodeCancelled, "processing cancelled", false)
		}
		d.logger.Error("role fan-out failed", "box_id", u.BoxID, "err", err)
		errResp := envelope.NewError(envelope.CodePipeline, "role fan-out failed", true)
		return nil, errResp.WithDetail("error", err.Error())
	}
	return resp, nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, u *Unpacked, status string) {
	if d.log == nil {
		return
	}
	err := d.log.InsertDelivery(ctx, store.Delivery{
		ID:               u.BoxID,
		Direction:        store.DirectionIncoming,
		Claim:            string(u.Claim),
		TaskSummary:      envelope.TaskSummary(u.Task),
		AttachmentsCount: len(u.Files),
		Status:           status,
	})
	if err != nil {
		telemetry.IncDeliveryLogError()
		d.logger.Warn("delivery log insert failed", "box_id", u.BoxID, "err", err)
	}
}

func (d *Dispatcher) updateDelivery(ctx context.Context, boxID, status string) {
	if d.log == nil {
		return
	}
	if err := d.log.UpdateDeliveryStatus(ctx, boxID, status); err != nil {
		telemetry.IncDeliveryLogError()
		d.logger.Warn("delivery log update failed", "box_id", boxID, "err", err)
	}
}

func (d *Dispatcher) recordReport(ctx context.Context, u *Unpacked, resp *envelope.CamperResponse) {
	if d.log == nil {
		return
	}
	err := d.log.InsertReport(ctx, store.CamperReport{
		BoxID:        u.BoxID,
		Role:         resp.CamperRole,
		ResponseType: string(resp.ResponseType),
		Confidence:   resp.ConfidenceScore,
		Blocked:      resp.ResponseType == envelope.TypeError,
	})
	if err != nil {
		telemetry.IncDeliveryLogError()
		d.logger.Warn("camper report insert failed", "box_id", u.BoxID, "err", err)
	}
}
