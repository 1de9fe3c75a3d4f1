package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargeslot/backend/services/reservation-service/internal/apperr"
	"chargeslot/backend/services/reservation-service/internal/models"
)

const rankingTieKM = 0.1

// SearchSettings tunes the search engine.
type SearchSettings struct {
	DefaultLimit       int
	MaxLimit           int
	ResultTTL          time.Duration
	PricingTimeout     time.Duration
	PricingConcurrency int
	RecommendCount     int
	WaitListHorizon    time.Duration
	MaxWindow          time.Duration
}

func (s SearchSettings) withDefaults() SearchSettings {
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = 50
	}
	if s.MaxLimit <= 0 {
		s.MaxLimit = 100
	}
	if s.ResultTTL <= 0 {
		s.ResultTTL = 15 * time.Minute
	}
	if s.PricingTimeout <= 0 {
		s.PricingTimeout = 2 * time.Second
	}
	if s.PricingConcurrency <= 0 {
		s.PricingConcurrency = 8
	}
	if s.RecommendCount <= 0 {
		s.RecommendCount = 3
	}
	if s.WaitListHorizon <= 0 {
		s.WaitListHorizon = 24 * time.Hour
	}
	if s.MaxWindow <= 0 {
		s.MaxWindow = 24 * time.Hour
	}
	return s
}

// Preferences are the caller's soft criteria for recommendations.
type Preferences struct {
	ConnectorTypes []string
	MaxPrice       *float64
	Amenities      []string
	MinRating      float64
}

func (p *Preferences) empty() bool {
	return p == nil || (len(p.ConnectorTypes) == 0 && p.MaxPrice == nil && len(p.Amenities) == 0 && p.MinRating == 0)
}

// SearchQuery is a slot search request.
type SearchQuery struct {
	Window         models.TimeWindow
	StationIDs     []string
	Center         *GeoPoint
	RadiusKM       float64
	ConnectorTypes []string
	MinPowerKW     float64
	AvailableOnly  bool
	Amenities      []string
	Limit          int
	Offset         int
	Preferences    *Preferences
}

// SearchResult is a page of ranked slots.
type SearchResult struct {
	Slots       []models.AvailabilitySlot `json:"slots"`
	WaitList    []models.WaitListOption   `json:"waitlist,omitempty"`
	Recommended []models.AvailabilitySlot `json:"recommended"`
	Total       int                       `json:"total"`
	ExpiresAt   time.Time                 `json:"expiry"`
}

// SlotSearchEngine answers availability queries. It never writes.
type SlotSearchEngine struct {
	directory *StationDirectory
	resolver  *ConflictResolver
	pricer    Pricer
	clock     Clock
	settings  SearchSettings
	logger    *zap.Logger
}

// NewSlotSearchEngine builds the engine.
func NewSlotSearchEngine(
	directory *StationDirectory,
	resolver *ConflictResolver,
	pricer Pricer,
	clock Clock,
	settings SearchSettings,
	logger *zap.Logger,
) *SlotSearchEngine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SlotSearchEngine{
		directory: directory,
		resolver:  resolver,
		pricer:    pricer,
		clock:     clock,
		settings:  settings.withDefaults(),
		logger:    logger,
	}
}

// Search returns ranked slots, wait-list alternatives and recommendations.
func (e *SlotSearchEngine) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	limit, err := e.validate(q)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	matches := e.directory.Find(StationFilter{
		StationIDs:     q.StationIDs,
		Center:         q.Center,
		RadiusKM:       q.RadiusKM,
		ConnectorTypes: q.ConnectorTypes,
		MinPowerKW:     q.MinPowerKW,
		Amenities:      q.Amenities,
	})

	expiresAt := now.Add(e.settings.ResultTTL)
	var (
		slots    []models.AvailabilitySlot
		waitList []models.WaitListOption
	)
	for _, m := range matches {
		if !m.Station.OpenDuring(q.Window) {
			continue
		}
		free := 0
		var busy []models.Connector
		for _, c := range m.Station.Connectors {
			avail, err := e.resolver.Check(ctx, Candidate{StationID: m.Station.ID, ConnectorID: c.ID, Window: q.Window})
			if err != nil {
				return nil, err
			}
			if avail.Free {
				free++
			} else {
				busy = append(busy, c)
			}
			if !avail.Free && q.AvailableOnly {
				continue
			}
			slots = append(slots, models.AvailabilitySlot{
				Station:         summarize(m.Station),
				ConnectorID:     c.ID,
				ConnectorTypes:  append([]string(nil), c.Types...),
				PowerKW:         c.PowerKW,
				ConnectorStatus: avail.Status,
				Available:       avail.Free,
				Window:          q.Window,
				DistanceKM:      m.DistanceKM,
				ExpiresAt:       expiresAt,
			})
		}
		if free == 0 {
			option, err := e.waitListOption(ctx, m, busy, q.Window, now)
			if err != nil {
				return nil, err
			}
			waitList = append(waitList, option)
		}
	}

	rankSlots(slots)
	sort.SliceStable(waitList, func(i, j int) bool { return waitList[i].DistanceKM < waitList[j].DistanceKM })

	total := len(slots)
	page := paginate(slots, q.Offset, limit)
	e.attachPricing(ctx, page)

	return &SearchResult{
		Slots:       page,
		WaitList:    waitList,
		Recommended: recommend(page, q.Preferences, e.settings.RecommendCount),
		Total:       total,
		ExpiresAt:   expiresAt,
	}, nil
}

func (e *SlotSearchEngine) validate(q SearchQuery) (int, error) {
	const op = "SlotSearchEngine.Search"

	if !q.Window.Valid() {
		return 0, apperr.Validation(op, "window end must be after start")
	}
	if q.Window.Duration() > e.settings.MaxWindow {
		return 0, apperr.Validation(op, "window must not exceed %s", e.settings.MaxWindow)
	}
	if q.Center != nil {
		if !q.Center.Valid() {
			return 0, apperr.Validation(op, "coordinates out of range")
		}
		if q.RadiusKM < 0 {
			return 0, apperr.Validation(op, "radius must not be negative")
		}
	} else if q.RadiusKM > 0 {
		return 0, apperr.Validation(op, "radius requires a center")
	}
	if q.MinPowerKW < 0 {
		return 0, apperr.Validation(op, "minimum power must not be negative")
	}
	if q.Offset < 0 || q.Limit < 0 {
		return 0, apperr.Validation(op, "limit and offset must not be negative")
	}

	limit := q.Limit
	if limit == 0 {
		limit = e.settings.DefaultLimit
	}
	if limit > e.settings.MaxLimit {
		limit = e.settings.MaxLimit
	}
	return limit, nil
}

// waitListOption picks the earliest estimated release across the busy connectors.
// One unknown estimate does not hide a known one.
func (e *SlotSearchEngine) waitListOption(ctx context.Context, m StationMatch, busy []models.Connector, window models.TimeWindow, now time.Time) (models.WaitListOption, error) {
	option := models.WaitListOption{StationID: m.Station.ID, DistanceKM: m.DistanceKM}
	seenType := make(map[string]struct{})
	for _, c := range busy {
		for _, t := range c.Types {
			key := strings.ToUpper(t)
			if _, ok := seenType[key]; !ok {
				seenType[key] = struct{}{}
				option.ConnectorTypes = append(option.ConnectorTypes, t)
			}
		}
		at, err := e.resolver.EstimateRelease(ctx, c.ID, window, now, e.settings.WaitListHorizon)
		if err != nil {
			return models.WaitListOption{}, err
		}
		if at != nil && (option.EstimatedAvailableAt == nil || at.Before(*option.EstimatedAvailableAt)) {
			option.EstimatedAvailableAt = at
		}
	}
	option.EstimateUnknown = option.EstimatedAvailableAt == nil
	return option, nil
}

// attachPricing quotes every slot in parallel. A failed or slow quote leaves Pricing nil.
func (e *SlotSearchEngine) attachPricing(ctx context.Context, slots []models.AvailabilitySlot) {
	if e.pricer == nil || len(slots) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.settings.PricingTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(e.settings.PricingConcurrency)
	for i := range slots {
		slot := &slots[i]
		if !slot.Available {
			continue
		}
		station, connector, ok := e.directory.Connector(slot.ConnectorID)
		if !ok {
			continue
		}
		g.Go(func() error {
			price, err := e.pricer.CalculatePrice(ctx, station, connector, slot.Window)
			if err != nil {
				e.logger.Warn("pricing unavailable for slot",
					zap.String("station_id", station.ID),
					zap.String("connector_id", connector.ID),
					zap.Error(err),
				)
				return nil
			}
			slot.Pricing = &price
			return nil
		})
	}
	_ = g.Wait()
}

// rankSlots orders by distance; slots within 100 m of a group's nearest member
// are ordered by rating, best first.
func rankSlots(slots []models.AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].DistanceKM < slots[j].DistanceKM })

	for start := 0; start < len(slots); {
		end := start + 1
		for end < len(slots) && slots[end].DistanceKM-slots[start].DistanceKM <= rankingTieKM {
			end++
		}
		group := slots[start:end]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Station.Rating > group[j].Station.Rating })
		start = end
	}
}

func paginate(slots []models.AvailabilitySlot, offset, limit int) []models.AvailabilitySlot {
	if offset >= len(slots) {
		return []models.AvailabilitySlot{}
	}
	end := offset + limit
	if end > len(slots) {
		end = len(slots)
	}
	return append([]models.AvailabilitySlot(nil), slots[offset:end]...)
}

// recommend returns the first n available slots matching the preferences,
// or the first n available slots when nothing matches or no preference is given.
func recommend(slots []models.AvailabilitySlot, prefs *Preferences, n int) []models.AvailabilitySlot {
	available := make([]models.AvailabilitySlot, 0, len(slots))
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}

	if !prefs.empty() {
		preferred := make([]models.AvailabilitySlot, 0, n)
		for _, s := range available {
			if matchesPreferences(s, prefs) {
				preferred = append(preferred, s)
				if len(preferred) == n {
					break
				}
			}
		}
		if len(preferred) > 0 {
			return preferred
		}
	}

	if len(available) > n {
		available = available[:n]
	}
	return available
}

func matchesPreferences(s models.AvailabilitySlot, p *Preferences) bool {
	if !(models.Connector{Types: s.ConnectorTypes}).HasType(p.ConnectorTypes) {
		return false
	}
	if p.MaxPrice != nil && (s.Pricing == nil || s.Pricing.Amount > *p.MaxPrice) {
		return false
	}
	if !(models.Station{Amenities: s.Station.Amenities}).HasAmenities(p.Amenities) {
		return false
	}
	return s.Station.Rating >= p.MinRating
}

func summarize(st models.Station) models.StationSummary {
	return models.StationSummary{
		ID:        st.ID,
		Name:      st.Name,
		Address:   st.Address,
		Latitude:  st.Latitude,
		Longitude: st.Longitude,
		Rating:    st.Rating,
		Amenities: append([]string(nil), st.Amenities...),
	}
}
