package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/events"
	"chargeslot/backend/services/reservation-service/internal/models"
	"chargeslot/backend/services/reservation-service/internal/policy"
	"chargeslot/backend/services/reservation-service/internal/repository"
)

// LifecycleSettings are the timing and money rules of the reservation lifecycle.
type LifecycleSettings struct {
	MinDuration         time.Duration
	MaxDuration         time.Duration
	ModifyCutoff        time.Duration
	DefaultGraceMinutes int
	MaxGraceMinutes     int
	EarlyCheckIn        time.Duration
	ClockSkew           time.Duration
	Currency            string
	MaxOccurrences      int
	NoShowBatch         int
	ListLimit           int
}

func (s LifecycleSettings) withDefaults() LifecycleSettings {
	if s.MinDuration <= 0 {
		s.MinDuration = 15 * time.Minute
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = 8 * time.Hour
	}
	if s.ModifyCutoff <= 0 {
		s.ModifyCutoff = 2 * time.Hour
	}
	if s.DefaultGraceMinutes <= 0 {
		s.DefaultGraceMinutes = 15
	}
	if s.MaxGraceMinutes < s.DefaultGraceMinutes {
		s.MaxGraceMinutes = 60
	}
	if s.EarlyCheckIn <= 0 {
		s.EarlyCheckIn = 15 * time.Minute
	}
	if s.ClockSkew <= 0 {
		s.ClockSkew = time.Minute
	}
	if s.Currency == "" {
		s.Currency = "USD"
	}
	if s.MaxOccurrences <= 0 {
		s.MaxOccurrences = 52
	}
	if s.NoShowBatch <= 0 {
		s.NoShowBatch = 100
	}
	if s.ListLimit <= 0 {
		s.ListLimit = 50
	}
	return s
}

// LifecycleDeps are the collaborators of the lifecycle manager.
type LifecycleDeps struct {
	Store     ReservationStore
	Tx        TxRunner
	Lookup    *ReservationLookup
	Directory *StationDirectory
	States    *ConnectorStateStore
	Resolver  *ConflictResolver
	Locks     *ConnectorLocks
	Policies  *policy.Engine
	Penalty   policy.LatePenalty
	Pricer    Pricer
	Payments  Refunder
	Notifier  Notifier
	Sessions  SessionStarter
	Publisher events.Publisher
	Metrics   OperationRecorder
	Clock     Clock
	Logger    *zap.Logger
}

// ReservationManager owns the reservation state machine.
type ReservationManager struct {
	deps     LifecycleDeps
	settings LifecycleSettings
}

// NewReservationManager builds the manager.
func NewReservationManager(deps LifecycleDeps, settings LifecycleSettings) *ReservationManager {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Locks == nil {
		deps.Locks = NewConnectorLocks()
	}
	if deps.Lookup == nil {
		deps.Lookup = NewReservationLookup(deps.Store, nil, deps.Logger)
	}
	return &ReservationManager{deps: deps, settings: settings.withDefaults()}
}

// Settings returns the effective settings.
func (m *ReservationManager) Settings() LifecycleSettings {
	return m.settings
}

// CreateInput is a booking request.
type CreateInput struct {
	UserID        string
	StationID     string
	ConnectorID   string
	VehicleID     string
	Window        models.TimeWindow
	BookingMethod string
	Recurring     *models.RecurringPattern
}

// OccurrenceResult reports one occurrence of a recurring booking.
type OccurrenceResult struct {
	Index       int                  `json:"index"`
	Window      models.TimeWindow    `json:"window"`
	Reservation *models.Reservation  `json:"reservation,omitempty"`
	Error       string               `json:"error,omitempty"`
	Conflicts   []apperr.ConflictRef `json:"conflicts,omitempty"`
}

// CreateResult is the first reservation plus per-occurrence outcomes.
type CreateResult struct {
	Reservation *models.Reservation `json:"reservation"`
	PatternID   string              `json:"patternId,omitempty"`
	Occurrences []OccurrenceResult  `json:"occurrences,omitempty"`
}

// Create books a connector. A recurring request books the first occurrence or
// fails; later occurrences are booked independently and reported one by one.
func (m *ReservationManager) Create(ctx context.Context, in CreateInput) (result *CreateResult, err error) {
	const op = "ReservationManager.Create"
	defer m.record("create", &err)

	in.BookingMethod = strings.TrimSpace(in.BookingMethod)
	if in.BookingMethod == "" {
		in.BookingMethod = models.BookingMethodApp
	}
	if err := m.validateCreate(op, in); err != nil {
		return nil, err
	}

	station, connector, ok := m.deps.Directory.Connector(in.ConnectorID)
	if !ok || station.ID != in.StationID {
		return nil, apperr.NotFound(op, "connector", in.ConnectorID)
	}

	windows := []models.TimeWindow{in.Window}
	var patternID string
	if in.Recurring != nil {
		windows, err = ExpandPattern(in.Window, *in.Recurring, m.settings.MaxOccurrences, station.Location())
		if err != nil {
			return nil, err
		}
		patternID = uuid.NewString()
		in.BookingMethod = models.BookingMethodRecurring
	}

	first, err := m.book(ctx, op, in, station, connector, windows[0], patternID)
	if err != nil {
		return nil, err
	}

	result = &CreateResult{Reservation: first}
	if patternID == "" {
		return result, nil
	}

	result.PatternID = patternID
	result.Occurrences = append(result.Occurrences, OccurrenceResult{Index: 0, Window: windows[0], Reservation: first})
	for i, w := range windows[1:] {
		occurrence := OccurrenceResult{Index: i + 1, Window: w}
		res, err := m.book(ctx, op, in, station, connector, w, patternID)
		if err != nil {
			occurrence.Error = errorMessage(err)
			if e, ok := apperr.As(err); ok {
				occurrence.Conflicts = e.Conflicts
			}
			m.deps.Logger.Info("recurring occurrence not booked",
				zap.String("pattern_id", patternID),
				zap.Int("index", i+1),
				zap.Error(err),
			)
		} else {
			occurrence.Reservation = res
		}
		result.Occurrences = append(result.Occurrences, occurrence)
	}
	return result, nil
}

func (m *ReservationManager) validateCreate(op string, in CreateInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return apperr.Validation(op, "user id is required")
	case strings.TrimSpace(in.StationID) == "":
		return apperr.Validation(op, "station id is required")
	case strings.TrimSpace(in.ConnectorID) == "":
		return apperr.Validation(op, "connector id is required")
	}
	switch in.BookingMethod {
	case models.BookingMethodApp, models.BookingMethodWeb, models.BookingMethodOperator, models.BookingMethodRecurring:
	default:
		return apperr.Validation(op, "unknown booking method %q", in.BookingMethod)
	}
	return m.validateWindow(op, in.Window, m.deps.Clock.Now())
}

func (m *ReservationManager) validateWindow(op string, w models.TimeWindow, now time.Time) error {
	if !w.Valid() {
		return apperr.Validation(op, "end time must be after start time")
	}
	if !w.Start.After(now) {
		return apperr.Validation(op, "start time must be in the future")
	}
	if d := w.Duration(); d < m.settings.MinDuration || d > m.settings.MaxDuration {
		return apperr.Validation(op, "duration must be between %s and %s", m.settings.MinDuration, m.settings.MaxDuration)
	}
	return nil
}

// book prices, checks and inserts one reservation. The price is fixed before the
// connector lock is taken; a pricing failure fails the booking.
func (m *ReservationManager) book(ctx context.Context, op string, in CreateInput, station models.Station, connector models.Connector, w models.TimeWindow, patternID string) (*models.Reservation, error) {
	if !station.OpenDuring(w) {
		return nil, apperr.Validation(op, "station %s is closed during the requested window", station.ID)
	}
	price, err := m.deps.Pricer.CalculatePrice(ctx, station, connector, w)
	if err != nil {
		return nil, apperr.Dependency(op, "pricing", err)
	}

	res := &models.Reservation{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		StationID:          station.ID,
		ConnectorID:        connector.ID,
		VehicleID:          in.VehicleID,
		StartTime:          w.Start.UTC(),
		EndTime:            w.End.UTC(),
		Status:             models.ReservationConfirmed,
		Fee:                price.Amount,
		Currency:           m.currency(price.Currency),
		GracePeriodMinutes: m.settings.DefaultGraceMinutes,
		BookingMethod:      in.BookingMethod,
		PatternID:          patternID,
		Recurring:          in.Recurring,
	}

	if err := m.insert(ctx, op, res); err != nil {
		return nil, err
	}

	m.committed(ctx, *res, events.ReservationUpdated)
	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.ScheduleReminders(ctx, *res); err != nil {
			m.deps.Logger.Warn("reminder scheduling failed", zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}
	return res, nil
}

func (m *ReservationManager) insert(ctx context.Context, op string, res *models.Reservation) error {
	unlock := m.deps.Locks.Lock(res.ConnectorID)
	defer unlock()

	avail, err := m.deps.Resolver.Check(ctx, Candidate{StationID: res.StationID, ConnectorID: res.ConnectorID, Window: res.Window()})
	if err != nil {
		return err
	}
	if !avail.Free {
		return avail.Err(op, res.ConnectorID)
	}
	if err := m.deps.Store.Create(ctx, res); err != nil {
		return m.storeErr(ctx, op, res, err)
	}
	return nil
}

// ModifyInput changes the window and/or the connector of a reservation.
type ModifyInput struct {
	ReservationID  string
	UserID         string
	NewStart       *time.Time
	NewEnd         *time.Time
	NewStationID   string
	NewConnectorID string
}

// FeeChange is the price difference of a modification.
type FeeChange struct {
	Previous     float64 `json:"previous"`
	Current      float64 `json:"current"`
	Delta        float64 `json:"delta"`
	Currency     string  `json:"currency"`
	RefundIssued bool    `json:"refundIssued"`
}

// ModifyResult is the modified reservation and its fee change.
type ModifyResult struct {
	Reservation *models.Reservation `json:"modifiedReservation"`
	Fees        *FeeChange          `json:"newFees,omitempty"`
}

// Modify moves a confirmed reservation to a new window or connector. All field
// changes and the new fee commit in one conditional update.
func (m *ReservationManager) Modify(ctx context.Context, in ModifyInput) (result *ModifyResult, err error) {
	const op = "ReservationManager.Modify"
	defer m.record("modify", &err)

	current, err := m.load(ctx, op, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if current.UserID != in.UserID {
		return nil, apperr.Policy(op, "only the reservation owner can modify it")
	}
	if current.Status != models.ReservationConfirmed {
		return nil, apperr.Policy(op, "reservation is %s and can no longer be modified", current.Status)
	}
	now := m.deps.Clock.Now()
	if !now.Before(current.StartTime.Add(-m.settings.ModifyCutoff)) {
		return nil, apperr.Policy(op, "modifications close %s before start", m.settings.ModifyCutoff)
	}

	target := *current
	if in.NewStart != nil {
		target.StartTime = in.NewStart.UTC()
	}
	if in.NewEnd != nil {
		target.EndTime = in.NewEnd.UTC()
	}
	switch {
	case in.NewConnectorID != "":
		target.ConnectorID = in.NewConnectorID
	case in.NewStationID != "" && in.NewStationID != current.StationID:
		return nil, apperr.Validation(op, "moving to another station requires a connector")
	}
	if target.StartTime.Equal(current.StartTime) && target.EndTime.Equal(current.EndTime) && target.ConnectorID == current.ConnectorID {
		return nil, apperr.Validation(op, "no changes requested")
	}
	if err := m.validateWindow(op, target.Window(), now); err != nil {
		return nil, err
	}

	station, connector, ok := m.deps.Directory.Connector(target.ConnectorID)
	if !ok || (in.NewStationID != "" && station.ID != in.NewStationID) {
		return nil, apperr.NotFound(op, "connector", target.ConnectorID)
	}
	target.StationID = station.ID
	if !station.OpenDuring(target.Window()) {
		return nil, apperr.Validation(op, "station %s is closed during the requested window", station.ID)
	}

	price, err := m.deps.Pricer.CalculatePrice(ctx, station, connector, target.Window())
	if err != nil {
		return nil, apperr.Dependency(op, "pricing", err)
	}
	target.Fee = price.Amount
	target.Currency = m.currency(price.Currency)

	if err := m.commitModify(ctx, op, current, &target); err != nil {
		return nil, err
	}

	fees := &FeeChange{
		Previous: current.Fee,
		Current:  target.Fee,
		Delta:    roundCents(target.Fee - current.Fee),
		Currency: target.Currency,
	}
	if fees.Delta < 0 && m.deps.Payments != nil {
		if err := m.deps.Payments.Refund(ctx, target.ID, -fees.Delta, fees.Currency); err != nil {
			m.deps.Logger.Warn("modification refund failed", zap.String("reservation_id", target.ID), zap.Error(err))
		} else {
			fees.RefundIssued = true
		}
	}

	if current.ConnectorID != target.ConnectorID {
		m.committed(ctx, target, events.ReservationUpdated, current.StationID, current.ConnectorID)
	}
	m.committed(ctx, target, events.ReservationUpdated)
	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.CancelReminders(ctx, target.ID); err != nil {
			m.deps.Logger.Warn("reminder cancellation failed", zap.String("reservation_id", target.ID), zap.Error(err))
		}
		if err := m.deps.Notifier.ScheduleReminders(ctx, target); err != nil {
			m.deps.Logger.Warn("reminder scheduling failed", zap.String("reservation_id", target.ID), zap.Error(err))
		}
	}
	return &ModifyResult{Reservation: &target, Fees: fees}, nil
}

func (m *ReservationManager) commitModify(ctx context.Context, op string, current, target *models.Reservation) error {
	unlock := m.deps.Locks.Lock(current.ConnectorID, target.ConnectorID)
	defer unlock()

	avail, err := m.deps.Resolver.Check(ctx, Candidate{
		StationID:            target.StationID,
		ConnectorID:          target.ConnectorID,
		Window:               target.Window(),
		ExcludeReservationID: target.ID,
	})
	if err != nil {
		return err
	}
	if !avail.Free {
		return avail.Err(op, target.ConnectorID)
	}
	if err := m.deps.Store.Update(ctx, target, models.ReservationConfirmed); err != nil {
		return m.storeErr(ctx, op, target, err)
	}
	return nil
}

// CancelScope selects the occurrences a cancellation applies to.
type CancelScope string

// Cancellation scopes.
const (
	CancelSingle CancelScope = "single"
	CancelSeries CancelScope = "series"
)

// CancelInput is a cancellation request.
type CancelInput struct {
	ReservationID string
	UserID        string
	Reason        string
	Scope         CancelScope
	Policy        string
}

// CancelledReservation is one cancelled reservation and its refund.
type CancelledReservation struct {
	ReservationID string        `json:"reservationId"`
	Refund        policy.Refund `json:"refund"`
	RefundIssued  bool          `json:"refundIssued"`
}

// CancelResult lists what was cancelled.
type CancelResult struct {
	Cancelled    []CancelledReservation `json:"cancelled"`
	RefundAmount float64                `json:"refundAmount"`
	Currency     string                 `json:"currency"`
}

// Cancel cancels one reservation or the remaining occurrences of its series.
// Status changes commit together; refunds are paid afterwards.
func (m *ReservationManager) Cancel(ctx context.Context, in CancelInput) (result *CancelResult, err error) {
	const op = "ReservationManager.Cancel"
	defer m.record("cancel", &err)

	current, err := m.load(ctx, op, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if current.UserID != in.UserID {
		return nil, apperr.Policy(op, "only the reservation owner can cancel it")
	}

	now := m.deps.Clock.Now()
	var targets []models.Reservation
	switch in.Scope {
	case "", CancelSingle:
		if current.Status != models.ReservationConfirmed {
			return nil, apperr.Policy(op, "reservation is %s and can no longer be cancelled", current.Status)
		}
		targets = []models.Reservation{*current}
	case CancelSeries:
		if current.PatternID == "" {
			return nil, apperr.Validation(op, "reservation is not part of a recurring series")
		}
		series, err := m.deps.Store.ListByPattern(ctx, current.PatternID)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		for _, r := range series {
			if r.Status == models.ReservationConfirmed && (r.ID == current.ID || r.StartTime.After(now)) {
				targets = append(targets, r)
			}
		}
		if len(targets) == 0 {
			return nil, apperr.Policy(op, "no cancellable occurrences left in the series")
		}
	default:
		return nil, apperr.Validation(op, "unknown cancellation scope %q", in.Scope)
	}

	refunds := make([]policy.Refund, len(targets))
	for i, t := range targets {
		refund, err := m.deps.Policies.Refund(t, in.Policy, now)
		if err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
		refunds[i] = refund
	}

	err = m.deps.Tx.Do(ctx, func(ctx context.Context) error {
		for i := range targets {
			t := &targets[i]
			cancelledAt := now
			t.Status = models.ReservationCancelled
			t.CancelledAt = &cancelledAt
			t.CancellationReason = strings.TrimSpace(in.Reason)
			t.RefundAmount = refunds[i].Amount
			if err := m.deps.Store.Update(ctx, t, models.ReservationConfirmed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, m.storeErr(ctx, op, current, err)
	}

	result = &CancelResult{Currency: current.Currency}
	for i, t := range targets {
		item := CancelledReservation{ReservationID: t.ID, Refund: refunds[i]}
		if refunds[i].Amount > 0 && m.deps.Payments != nil {
			if err := m.deps.Payments.Refund(ctx, t.ID, refunds[i].Amount, t.Currency); err != nil {
				m.deps.Logger.Warn("refund failed", zap.String("reservation_id", t.ID), zap.Float64("amount", refunds[i].Amount), zap.Error(err))
			} else {
				item.RefundIssued = true
			}
		}
		if m.deps.Notifier != nil {
			if err := m.deps.Notifier.CancelReminders(ctx, t.ID); err != nil {
				m.deps.Logger.Warn("reminder cancellation failed", zap.String("reservation_id", t.ID), zap.Error(err))
			}
		}
		m.committed(ctx, t, events.ReservationUpdated)
		result.Cancelled = append(result.Cancelled, item)
		result.RefundAmount = roundCents(result.RefundAmount + refunds[i].Amount)
	}
	return result, nil
}

// CheckInInput is a user's arrival at the connector.
type CheckInInput struct {
	ReservationID string
	UserID        string
	StationID     string
	ConnectorID   string
	Timestamp     time.Time
	AutoStart     bool
}

// CheckInResult reports lateness, penalty and the optional session.
type CheckInResult struct {
	Success           bool                `json:"success"`
	LateCheckIn       bool                `json:"lateCheckIn"`
	LateByMinutes     int                 `json:"lateByMinutes,omitempty"`
	PenaltyFeeApplied float64             `json:"penaltyFeeApplied,omitempty"`
	SessionID         string              `json:"sessionId,omitempty"`
	Reservation       *models.Reservation `json:"reservation"`
}

// CheckIn marks the user as arrived, charges the late penalty beyond grace, and
// optionally starts the charging session.
func (m *ReservationManager) CheckIn(ctx context.Context, in CheckInInput) (result *CheckInResult, err error) {
	const op = "ReservationManager.CheckIn"
	defer m.record("check_in", &err)

	current, err := m.load(ctx, op, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if current.UserID != in.UserID {
		return nil, apperr.Policy(op, "only the reservation owner can check in")
	}
	if current.StationID != in.StationID || current.ConnectorID != in.ConnectorID {
		return nil, apperr.Validation(op, "station and connector do not match the reservation")
	}
	if current.Status != models.ReservationConfirmed {
		return nil, apperr.Policy(op, "reservation is %s and cannot be checked in", current.Status)
	}

	// A client timestamp may only correct for device clock skew; lateness is
	// measured against the server clock.
	now := m.deps.Clock.Now()
	at := now
	if !in.Timestamp.IsZero() {
		if in.Timestamp.After(now.Add(m.settings.ClockSkew)) {
			return nil, apperr.Validation(op, "check-in timestamp is in the future")
		}
		at = in.Timestamp.UTC()
		if floor := now.Add(-m.settings.ClockSkew); at.Before(floor) {
			at = floor
		}
	}
	if at.Before(current.StartTime.Add(-m.settings.EarlyCheckIn)) {
		return nil, apperr.Policy(op, "check-in opens %s before start", m.settings.EarlyCheckIn)
	}
	if at.After(current.NoShowDeadline()) {
		return nil, apperr.Policy(op, "reservation window has elapsed")
	}
	if status, ok := m.deps.States.Status(current.ConnectorID); ok && !status.Bookable() {
		return nil, apperr.Conflict(op, apperr.ConflictRef{ConnectorID: current.ConnectorID, Reason: "connector is " + string(status)})
	}

	late := policy.LateMinutes(current.StartTime, at)
	penalty := m.deps.Penalty.Fee(late, current.GracePeriodMinutes)

	target := *current
	target.Status = models.ReservationCheckedIn
	target.CheckedInAt = &at
	target.PenaltyFee = penalty
	if err := m.deps.Store.Update(ctx, &target, models.ReservationConfirmed); err != nil {
		return nil, m.storeErr(ctx, op, &target, err)
	}

	m.occupy(ctx, target.ConnectorID, models.ConnectorOccupied, now)
	m.committed(ctx, target, events.ReservationCheckedIn)
	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.CancelReminders(ctx, target.ID); err != nil {
			m.deps.Logger.Warn("reminder cancellation failed", zap.String("reservation_id", target.ID), zap.Error(err))
		}
	}

	result = &CheckInResult{
		Success:           true,
		LateCheckIn:       late > current.GracePeriodMinutes,
		PenaltyFeeApplied: penalty,
		Reservation:       &target,
	}
	if late > 0 {
		result.LateByMinutes = late
	}

	if in.AutoStart {
		started, err := m.startSession(ctx, op, &target)
		if err != nil {
			m.deps.Logger.Warn("auto-start failed after check-in", zap.String("reservation_id", target.ID), zap.Error(err))
		} else {
			result.SessionID = started.SessionID
			result.Reservation = started
		}
	}
	return result, nil
}

// StartSession opens the charging session of a checked-in reservation.
func (m *ReservationManager) StartSession(ctx context.Context, reservationID, userID string) (res *models.Reservation, err error) {
	const op = "ReservationManager.StartSession"
	defer m.record("start_session", &err)

	current, err := m.load(ctx, op, reservationID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, apperr.Policy(op, "only the reservation owner can start charging")
	}
	if current.Status != models.ReservationCheckedIn {
		return nil, apperr.Policy(op, "reservation is %s; check in first", current.Status)
	}
	return m.startSession(ctx, op, current)
}

func (m *ReservationManager) startSession(ctx context.Context, op string, current *models.Reservation) (*models.Reservation, error) {
	if m.deps.Sessions == nil {
		return nil, apperr.Dependency(op, "charging sessions", errors.New("not configured"))
	}
	sessionID, err := m.deps.Sessions.StartSession(ctx, *current)
	if err != nil {
		return nil, apperr.Dependency(op, "charging sessions", err)
	}

	target := *current
	target.Status = models.ReservationInProgress
	target.SessionID = sessionID
	if err := m.deps.Store.Update(ctx, &target, models.ReservationCheckedIn); err != nil {
		return nil, m.storeErr(ctx, op, &target, err)
	}
	m.committed(ctx, target, events.ReservationUpdated)
	return &target, nil
}

// CompleteInput closes a reservation when its charging session ends.
type CompleteInput struct {
	ReservationID string
	SessionID     string
}

// Complete finishes a checked-in or charging reservation and frees the connector.
func (m *ReservationManager) Complete(ctx context.Context, in CompleteInput) (res *models.Reservation, err error) {
	const op = "ReservationManager.Complete"
	defer m.record("complete", &err)

	current, err := m.load(ctx, op, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if in.SessionID != "" && current.SessionID != "" && in.SessionID != current.SessionID {
		return nil, apperr.Validation(op, "session %s does not belong to reservation %s", in.SessionID, current.ID)
	}
	if !current.Status.CanTransition(models.ReservationCompleted) {
		return nil, apperr.Policy(op, "reservation is %s and cannot be completed", current.Status)
	}

	target := *current
	target.Status = models.ReservationCompleted
	if target.SessionID == "" {
		target.SessionID = in.SessionID
	}
	if err := m.deps.Store.Update(ctx, &target, current.Status); err != nil {
		return nil, m.storeErr(ctx, op, &target, err)
	}

	m.occupy(ctx, target.ConnectorID, models.ConnectorAvailable, m.deps.Clock.Now())
	m.committed(ctx, target, events.ReservationUpdated)
	return &target, nil
}

// ExtendGrace adds minutes to the grace period of a confirmed reservation.
func (m *ReservationManager) ExtendGrace(ctx context.Context, reservationID, userID string, minutes int) (res *models.Reservation, err error) {
	const op = "ReservationManager.ExtendGrace"
	defer m.record("extend_grace", &err)

	if minutes <= 0 {
		return nil, apperr.Validation(op, "extension must be a positive number of minutes")
	}
	current, err := m.load(ctx, op, reservationID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, apperr.Policy(op, "only the reservation owner can extend it")
	}
	if current.Status != models.ReservationConfirmed {
		return nil, apperr.Policy(op, "reservation is %s and cannot be extended", current.Status)
	}
	if m.deps.Clock.Now().After(current.NoShowDeadline()) {
		return nil, apperr.Policy(op, "reservation window has elapsed")
	}
	if current.GracePeriodMinutes+minutes > m.settings.MaxGraceMinutes {
		return nil, apperr.Policy(op, "grace period cannot exceed %d minutes", m.settings.MaxGraceMinutes)
	}

	target := *current
	target.GracePeriodMinutes += minutes
	if err := m.deps.Store.Update(ctx, &target, models.ReservationConfirmed); err != nil {
		return nil, m.storeErr(ctx, op, &target, err)
	}
	m.committed(ctx, target, events.ReservationUpdated)
	return &target, nil
}

// MarkNoShows moves confirmed reservations past their deadline to no_show and
// returns how many changed.
func (m *ReservationManager) MarkNoShows(ctx context.Context) (int, error) {
	const op = "ReservationManager.MarkNoShows"

	now := m.deps.Clock.Now()
	due, err := m.deps.Store.ListDueNoShows(ctx, now, m.settings.NoShowBatch)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	marked := 0
	for _, r := range due {
		if r.Status != models.ReservationConfirmed || now.Before(r.NoShowDeadline()) {
			continue
		}
		r.Status = models.ReservationNoShow
		if err := m.deps.Store.Update(ctx, &r, models.ReservationConfirmed); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				continue
			}
			m.deps.Logger.Warn("no-show transition failed", zap.String("reservation_id", r.ID), zap.Error(err))
			m.deps.Metrics.Operation("no_show", apperr.KindInternal.String())
			continue
		}
		marked++
		m.deps.Metrics.Operation("no_show", "ok")
		if m.deps.Notifier != nil {
			if err := m.deps.Notifier.CancelReminders(ctx, r.ID); err != nil {
				m.deps.Logger.Warn("reminder cancellation failed", zap.String("reservation_id", r.ID), zap.Error(err))
			}
		}
		m.committed(ctx, r, events.ReservationUpdated)
	}
	return marked, nil
}

// Get returns a reservation owned by userID.
func (m *ReservationManager) Get(ctx context.Context, reservationID, userID string) (*models.Reservation, error) {
	const op = "ReservationManager.Get"

	res, err := m.deps.Lookup.Get(ctx, reservationID)
	if err != nil {
		return nil, m.loadErr(op, reservationID, err)
	}
	if res.UserID != userID {
		return nil, apperr.NotFound(op, "reservation", reservationID)
	}
	return res, nil
}

// ListByUser returns the user's reservations, newest start first.
func (m *ReservationManager) ListByUser(ctx context.Context, userID string, statuses []models.ReservationStatus, limit int) ([]models.Reservation, error) {
	const op = "ReservationManager.ListByUser"

	for _, s := range statuses {
		if !s.Valid() {
			return nil, apperr.Validation(op, "unknown reservation status %q", s)
		}
	}
	if limit <= 0 || limit > m.settings.ListLimit {
		limit = m.settings.ListLimit
	}
	list, err := m.deps.Store.ListByUser(ctx, userID, statuses, limit)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return list, nil
}

func (m *ReservationManager) load(ctx context.Context, op, id string) (*models.Reservation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation(op, "reservation id is required")
	}
	res, err := m.deps.Lookup.Fresh(ctx, id)
	if err != nil {
		return nil, m.loadErr(op, id, err)
	}
	return res, nil
}

func (m *ReservationManager) loadErr(op, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(op, "reservation", id)
	}
	return apperr.Internal(op, err)
}

// storeErr maps repository failures. An exclusion violation is reported with the
// reservation that won the race.
func (m *ReservationManager) storeErr(ctx context.Context, op string, res *models.Reservation, err error) error {
	switch {
	case errors.Is(err, repository.ErrOverlap):
		competing, listErr := m.deps.Store.ListBlocking(ctx, res.ConnectorID, res.Window())
		if listErr != nil {
			m.deps.Logger.Warn("competing reservation lookup failed", zap.String("connector_id", res.ConnectorID), zap.Error(listErr))
		}
		refs := make([]apperr.ConflictRef, 0, 1)
		for _, c := range competing {
			if c.ID != res.ID && c.Window().Overlaps(res.Window()) {
				refs = append(refs, apperr.ConflictRef{ReservationID: c.ID, ConnectorID: res.ConnectorID})
			}
		}
		if len(refs) == 0 {
			refs = append(refs, apperr.ConflictRef{ConnectorID: res.ConnectorID, Reason: "overlapping reservation"})
		}
		return apperr.Conflict(op, refs...)
	case errors.Is(err, repository.ErrStaleWrite):
		return apperr.Conflict(op, apperr.ConflictRef{
			ReservationID: res.ID,
			ConnectorID:   res.ConnectorID,
			Reason:        "reservation changed concurrently, reload and retry",
		})
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(op, "reservation", res.ID)
	default:
		return apperr.Internal(op, err)
	}
}

// occupy moves the connector through the state store after a lifecycle commit.
func (m *ReservationManager) occupy(ctx context.Context, connectorID string, status models.ConnectorStatus, at time.Time) {
	if m.deps.States == nil {
		return
	}
	if _, err := m.deps.States.Set(ctx, connectorID, status, at); err != nil {
		m.deps.Logger.Warn("connector status update failed",
			zap.String("connector_id", connectorID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// committed invalidates the cache and announces a durable change. The optional
// location overrides the station and connector the event is addressed to.
func (m *ReservationManager) committed(ctx context.Context, res models.Reservation, kind events.Kind, location ...string) {
	m.deps.Lookup.Invalidate(ctx, res.ID)

	stationID, connectorID := res.StationID, res.ConnectorID
	if len(location) == 2 {
		stationID, connectorID = location[0], location[1]
	}
	event := events.Event{
		Kind:        kind,
		StationID:   stationID,
		ConnectorID: connectorID,
		Reservation: events.RefOf(res),
		OccurredAt:  m.deps.Clock.Now(),
	}
	if m.deps.States != nil {
		if status, ok := m.deps.States.Status(connectorID); ok {
			event.Status = status
		}
	}
	m.deps.Publisher.Publish(ctx, event)
}

func (m *ReservationManager) record(operation string, err *error) {
	result := "ok"
	if *err != nil {
		result = apperr.KindOf(*err).String()
	}
	m.deps.Metrics.Operation(operation, result)
}

func (m *ReservationManager) currency(quoted string) string {
	if quoted != "" {
		return quoted
	}
	return m.settings.Currency
}

func errorMessage(err error) string {
	if e, ok := apperr.As(err); ok && e.Safe() {
		return e.Message
	}
	return "internal error"
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
