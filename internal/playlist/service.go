// Package playlist implements the OpenHome Playlist service state
// machine: the authoritative playlist view over a queue owned by the
// player, bridging OpenHome's stable ids and the player's ephemeral ids,
// persisting per-track metadata, and supporting source deactivation for a
// "radio" source sharing the same queue.
package playlist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
	"github.com/upmpd-go/upmpd-go/internal/metrics"
	"github.com/upmpd-go/upmpd-go/internal/player"
	"github.com/upmpd-go/upmpd-go/internal/urlmorph"
)

// PlaylistState is the UPnP-visible snapshot. When the service
// is active it is derived on demand; when inactive it is the frozen
// snapshot captured at the moment of deactivation.
type PlaylistState struct {
	TransportState string
	Repeat         bool
	Shuffle        bool
	IdArrayBase64  string
	CurrentID      int32
	TracksMax      int
	ProtocolInfo   string
}

// SavedPlayerState is captured on deactivation and restored on
// reactivation.
type SavedPlayerState struct {
	Queue   []player.UpSong
	Repeat  bool
	Shuffle bool
	Version uint64
}

// TrackInfo is the uri/metadata pair returned by Read/ReadList.
type TrackInfo struct {
	ID       int32
	URI      string
	Metadata string
}

// StateChangeEvent is emitted whenever a rebuild detects a changed field.
type StateChangeEvent struct {
	State PlaylistState
}

// Service is one OpenHome Playlist source instance.
type Service struct {
	log         zerolog.Logger
	metrics     *metrics.Metrics
	p           player.Player
	cache       *MetadataCache
	urlmorphCfg urlmorph.Config
	keepConsume bool

	changes chan StateChangeEvent

	mu              sync.Mutex
	active          bool
	frozen          *PlaylistState
	savedState      *SavedPlayerState
	staleIDToURI    map[int32]string
	lastQueueVer    uint64
	lastCurrentURI  string
	lastCurrentDidl string
	lastPublished   PlaylistState
}

// NewService constructs a Playlist source. It starts active: the caller
// is expected to Deactivate it explicitly when another source (e.g.
// Radio) takes over the shared queue.
func NewService(log zerolog.Logger, m *metrics.Metrics, p player.Player, cache *MetadataCache, urlmorphCfg urlmorph.Config, keepConsume bool) *Service {
	return &Service{
		log:         log.With().Str("subsystem", "playlist").Logger(),
		metrics:     m,
		p:           p,
		cache:       cache,
		urlmorphCfg: urlmorphCfg,
		keepConsume: keepConsume,
		active:      true,
		changes:     make(chan StateChangeEvent, 32),
	}
}

// Changes delivers a StateChangeEvent every time a rebuild observes a
// changed field. Buffered; slow consumers miss intermediate states but
// never block the player-event worker.
func (s *Service) Changes() <-chan StateChangeEvent { return s.changes }

// Start launches the background worker that listens to player events and
// rebuilds/publishes state. It runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.p.Events():
			if !ok {
				return
			}
			s.handlePlayerEvent(evt)
		}
	}
}

func (s *Service) handlePlayerEvent(player.Event) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	changed, state := s.refreshLocked()
	s.mu.Unlock()

	if changed {
		select {
		case s.changes <- StateChangeEvent{State: state}:
		default:
			s.log.Warn().Msg("state change dropped, subscriber too slow")
		}
	}
}

// refreshLocked reconciles the metadata cache against the live queue,
// recomputes the id array, and returns whether the published state
// changed. Caller must hold s.mu.
func (s *Service) refreshLocked() (bool, PlaylistState) {
	queue := s.p.Queue()
	keep := make(map[string]struct{}, len(queue))
	for _, song := range queue {
		keep[song.URI] = struct{}{}
		if _, ok := s.cache.Get(song.URI); !ok {
			s.cache.Put(song.URI, synthesizeDidl(song.MpdID, song.URI))
		}
	}
	s.cache.Reconcile(keep)

	ids := idsFromQueue(queue)
	idArray := s.computeIdArrayLocked(ids)
	currentID, _ := s.p.CurrentSongID()

	state := PlaylistState{
		TransportState: s.p.TransportState(),
		Repeat:         s.p.Repeat(),
		Shuffle:        s.p.Shuffle(),
		IdArrayBase64:  idArray,
		CurrentID:      currentID,
		TracksMax:      s.p.TracksMax(),
		ProtocolInfo:   s.p.ProtocolInfo(),
	}
	changed := state != s.lastPublished
	s.lastPublished = state
	return changed, state
}

// computeIdArrayLocked implements the cached-IdArray logic, including the
// empty-array-once special case for in-place metadata changes.
func (s *Service) computeIdArrayLocked(ids []int32) string {
	version := s.p.QueueVersion()

	var currentURI, currentDidl string
	if id, ok := s.p.CurrentSongID(); ok {
		for _, song := range s.p.Queue() {
			if song.MpdID == id {
				currentURI = song.URI
				break
			}
		}
		currentDidl, _ = s.cache.Get(currentURI)
	}

	sameVersion := version == s.lastQueueVer
	metadataChanged := currentURI != "" && currentURI == s.lastCurrentURI && currentDidl != s.lastCurrentDidl

	s.lastQueueVer = version
	s.lastCurrentURI = currentURI
	s.lastCurrentDidl = currentDidl

	if sameVersion && metadataChanged {
		return EncodeIdArray(nil)
	}
	return EncodeIdArray(ids)
}

func (s *Service) snapshotLocked() PlaylistState {
	if s.active {
		_, state := s.refreshLocked()
		return state
	}
	if s.frozen != nil {
		return *s.frozen
	}
	return PlaylistState{TracksMax: s.p.TracksMax(), ProtocolInfo: s.p.ProtocolInfo()}
}

func (s *Service) queueSourceLocked() []player.UpSong {
	if s.active {
		return s.p.Queue()
	}
	if s.savedState != nil {
		return s.savedState.Queue
	}
	return nil
}

func (s *Service) queueVersionLocked() uint64 {
	if s.active {
		return s.p.QueueVersion()
	}
	if s.savedState != nil {
		return s.savedState.Version
	}
	return 0
}

func (s *Service) requireActiveLocked() error {
	if !s.active {
		return apperrors.NewNotActiveError("playlist: service is not the active source")
	}
	return nil
}

func (s *Service) touchConsumeLocked(ctx context.Context) {
	if !s.keepConsume {
		_ = s.p.SetConsume(ctx, true)
	}
}

// resolveIDLocked translates a (possibly stale) OpenHome id into a
// currently-valid player id: a stale id resolves through the saved
// queue's uri to the matching entry in the live queue. id 0 is the
// "head of queue" sentinel used by Insert/after_id and always resolves
// to itself.
func (s *Service) resolveIDLocked(id int32) (int32, error) {
	if id == 0 {
		return 0, nil
	}
	for _, song := range s.p.Queue() {
		if song.MpdID == id {
			return id, nil
		}
	}
	if s.staleIDToURI != nil {
		if uri, ok := s.staleIDToURI[id]; ok {
			for _, song := range s.p.Queue() {
				if song.URI == uri {
					return song.MpdID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("id %d not found in current or saved queue", id)
}

// Deactivate snapshots live state, saves the queue/options, and stops the
// player, handing the shared queue to whichever source activates next.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}

	state := s.snapshotLocked()
	s.frozen = &state

	queue := s.p.Queue()
	idToURI := make(map[int32]string, len(queue))
	for _, song := range queue {
		idToURI[song.MpdID] = song.URI
	}
	s.staleIDToURI = idToURI
	s.savedState = &SavedPlayerState{
		Queue:   queue,
		Repeat:  s.p.Repeat(),
		Shuffle: s.p.Shuffle(),
		Version: s.p.QueueVersion(),
	}
	s.active = false

	if err := s.p.Stop(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

// Activate clears the queue, restores SavedPlayerState, and republishes
// state.
func (s *Service) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	if err := s.p.DeleteAll(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}

	if s.savedState != nil {
		prevID := int32(0)
		for _, song := range s.savedState.Queue {
			newID, err := s.p.InsertAfterID(ctx, prevID, song.URI, song.DidlMetadata)
			if err != nil {
				return apperrors.NewPlayerError(err.Error())
			}
			prevID = newID
		}
		_ = s.p.SetRepeat(ctx, s.savedState.Repeat)
		_ = s.p.SetShuffle(ctx, s.savedState.Shuffle)
	}

	s.active = true
	s.frozen = nil
	return nil
}

// --- action surface ---

func (s *Service) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	s.touchConsumeLocked(ctx)
	if err := s.p.Play(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.Pause(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.Stop(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Next(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.Next(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Previous(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.Previous(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) SetRepeat(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.SetRepeat(ctx, on); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Repeat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Repeat
}

func (s *Service) SetShuffle(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.SetShuffle(ctx, on); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) Shuffle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Shuffle
}

func (s *Service) SeekSecondAbsolute(ctx context.Context, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if seconds < 0 {
		return apperrors.NewInvalidParamError("playlist: seek position must be non-negative")
	}
	if err := s.p.SeekSecondAbsolute(ctx, seconds); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) SeekSecondRelative(ctx context.Context, deltaSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.SeekSecondRelative(ctx, deltaSeconds); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) SeekID(ctx context.Context, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	resolved, err := s.resolveIDLocked(id)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("playlist: cannot resolve id %d: %v", id, err))
	}
	s.touchConsumeLocked(ctx)
	if err := s.p.SeekID(ctx, resolved); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) SeekIndex(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	s.touchConsumeLocked(ctx)
	if err := s.p.SeekIndex(ctx, index); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) TransportState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().TransportState
}

func (s *Service) Id() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().CurrentID
}

func (s *Service) TracksMax() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().TracksMax
}

func (s *Service) ProtocolInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().ProtocolInfo
}

func (s *Service) IdArray() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().IdArrayBase64
}

// IdArrayChanged reports whether the given previous-queue-version token
// still matches the current one: an unchanged queue returns true, any
// mutation returns false.
func (s *Service) IdArrayChanged(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token == s.queueVersionLocked()
}

func (s *Service) readListLocked(ids []int32) []TrackInfo {
	queue := s.queueSourceLocked()
	byID := make(map[int32]player.UpSong, len(queue))
	for _, song := range queue {
		byID[song.MpdID] = song
	}

	out := make([]TrackInfo, 0, len(ids))
	for _, id := range ids {
		song, ok := byID[id]
		if !ok {
			continue
		}
		didl, ok := s.cache.Get(song.URI)
		if !ok {
			didl = synthesizeDidl(song.MpdID, song.URI)
			s.cache.Put(song.URI, didl)
		}
		out = append(out, TrackInfo{ID: id, URI: song.URI, Metadata: didl})
	}
	return out
}

func (s *Service) ReadList(ids []int32) ([]TrackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readListLocked(ids), nil
}

func (s *Service) Read(id int32) (TrackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.readListLocked([]int32{id})
	if len(list) == 0 {
		return TrackInfo{}, apperrors.NewInvalidParamError(fmt.Sprintf("playlist: no such id %d", id))
	}
	return list[0], nil
}

// Insert morphs uri, validates the resulting content uri, stores
// metadata in the cache, and inserts into the player queue after
// afterID.
func (s *Service) Insert(ctx context.Context, afterID int32, uri, metadata string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return 0, err
	}

	resolvedAfter, err := s.resolveIDLocked(afterID)
	if err != nil {
		return 0, apperrors.NewInternalError(fmt.Sprintf("playlist: cannot resolve after_id %d: %v", afterID, err))
	}

	morphed := urlmorph.Morph(s.urlmorphCfg, uri)
	if err := validateTrackURI(morphed.URL); err != nil {
		return 0, apperrors.NewInvalidParamError(fmt.Sprintf("playlist: insert: %v", err))
	}
	if !morphed.ForceNoContentCheck {
		if err := checkContentFormat(morphed.URL, metadata, s.p.ProtocolInfo()); err != nil {
			return 0, apperrors.NewInvalidParamError(fmt.Sprintf("playlist: insert: %v", err))
		}
	}

	newID, err := s.p.InsertAfterID(ctx, resolvedAfter, morphed.URL, metadata)
	if err != nil {
		return 0, apperrors.NewPlayerError(err.Error())
	}
	if metadata != "" {
		s.cache.Put(morphed.URL, metadata)
	}
	return newID, nil
}

func (s *Service) DeleteID(ctx context.Context, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	resolved, err := s.resolveIDLocked(id)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("playlist: cannot resolve id %d: %v", id, err))
	}
	if err := s.p.DeleteID(ctx, resolved); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func (s *Service) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActiveLocked(); err != nil {
		return err
	}
	if err := s.p.DeleteAll(ctx); err != nil {
		return apperrors.NewPlayerError(err.Error())
	}
	return nil
}

func idsFromQueue(queue []player.UpSong) []int32 {
	ids := make([]int32, len(queue))
	for i, song := range queue {
		ids[i] = song.MpdID
	}
	return ids
}

func validateTrackURI(u string) error {
	if u == "" {
		return fmt.Errorf("empty content uri")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("unsupported content uri scheme: %s", u)
	}
	return nil
}
