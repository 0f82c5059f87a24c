package player

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSuchID is returned by SeekID/DeleteID/InsertAfterID when the given
// id is not present in the queue.
var ErrNoSuchID = errors.New("player: no such id")

// Fake is an in-memory Player used by tests and by any deployment that
// wants to exercise PlaylistService without a real player daemon
// attached. It is not a mock in the assert-on-calls sense: it behaves
// like a small, real queue.
type Fake struct {
	mu sync.Mutex

	queue        []UpSong
	nextID       int32
	currentIndex int

	repeat  bool
	shuffle bool
	consume bool

	transportState string
	version        uint64
	tracksMax      int
	protocolInfo   string

	events chan Event
}

// NewFake constructs an empty Fake player in the Stopped state.
func NewFake() *Fake {
	return &Fake{
		nextID:         1,
		currentIndex:   -1,
		transportState: "Stopped",
		tracksMax:      16384,
		protocolInfo:   "http-get:*:*:*",
		events:         make(chan Event, 64),
	}
}

func (f *Fake) emit(kind EventKind) {
	select {
	case f.events <- Event{Kind: kind}:
	default:
	}
}

func (f *Fake) Events() <-chan Event { return f.events }

func (f *Fake) Play(ctx context.Context) error {
	f.mu.Lock()
	if f.currentIndex < 0 && len(f.queue) > 0 {
		f.currentIndex = 0
	}
	f.transportState = "Playing"
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) Pause(ctx context.Context) error {
	f.mu.Lock()
	f.transportState = "Paused"
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.transportState = "Stopped"
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) Next(ctx context.Context) error {
	f.mu.Lock()
	if f.currentIndex+1 < len(f.queue) {
		f.currentIndex++
	}
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) Previous(ctx context.Context) error {
	f.mu.Lock()
	if f.currentIndex > 0 {
		f.currentIndex--
	}
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) SetRepeat(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.repeat = on
	f.mu.Unlock()
	f.emit(EventOpts)
	return nil
}

func (f *Fake) Repeat() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repeat
}

func (f *Fake) SetShuffle(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.shuffle = on
	f.mu.Unlock()
	f.emit(EventOpts)
	return nil
}

func (f *Fake) Shuffle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shuffle
}

func (f *Fake) SeekSecondAbsolute(ctx context.Context, seconds int) error {
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) SeekSecondRelative(ctx context.Context, deltaSeconds int) error {
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) SeekID(ctx context.Context, id int32) error {
	f.mu.Lock()
	idx := f.indexOf(id)
	if idx < 0 {
		f.mu.Unlock()
		return ErrNoSuchID
	}
	f.currentIndex = idx
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) SeekIndex(ctx context.Context, index int) error {
	f.mu.Lock()
	if index < 0 || index >= len(f.queue) {
		f.mu.Unlock()
		return ErrNoSuchID
	}
	f.currentIndex = index
	f.mu.Unlock()
	f.emit(EventPlayer)
	return nil
}

func (f *Fake) SetConsume(ctx context.Context, on bool) error {
	f.mu.Lock()
	f.consume = on
	f.mu.Unlock()
	return nil
}

func (f *Fake) TransportState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transportState
}

func (f *Fake) CurrentSongID() (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentIndex < 0 || f.currentIndex >= len(f.queue) {
		return 0, false
	}
	return f.queue[f.currentIndex].MpdID, true
}

func (f *Fake) QueueVersion() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *Fake) Queue() []UpSong {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UpSong, len(f.queue))
	copy(out, f.queue)
	return out
}

// InsertAfterID inserts uri/didlMetadata immediately after afterID, or at
// the head of the queue when afterID is 0.
func (f *Fake) InsertAfterID(ctx context.Context, afterID int32, uri, didlMetadata string) (int32, error) {
	f.mu.Lock()

	insertAt := 0
	if afterID != 0 {
		idx := f.indexOf(afterID)
		if idx < 0 {
			f.mu.Unlock()
			return 0, ErrNoSuchID
		}
		insertAt = idx + 1
	}

	id := f.nextID
	f.nextID++
	song := UpSong{MpdID: id, URI: uri, DidlMetadata: didlMetadata}

	f.queue = append(f.queue, UpSong{})
	copy(f.queue[insertAt+1:], f.queue[insertAt:])
	f.queue[insertAt] = song
	if f.currentIndex >= insertAt {
		f.currentIndex++
	}
	f.version++

	f.mu.Unlock()
	f.emit(EventQueue)
	return id, nil
}

func (f *Fake) DeleteID(ctx context.Context, id int32) error {
	f.mu.Lock()
	idx := f.indexOf(id)
	if idx < 0 {
		f.mu.Unlock()
		return ErrNoSuchID
	}
	f.queue = append(f.queue[:idx], f.queue[idx+1:]...)
	if f.currentIndex >= idx {
		f.currentIndex--
	}
	f.version++
	f.mu.Unlock()
	f.emit(EventQueue)
	return nil
}

func (f *Fake) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	f.queue = nil
	f.currentIndex = -1
	f.version++
	f.mu.Unlock()
	f.emit(EventQueue)
	return nil
}

func (f *Fake) TracksMax() int       { return f.tracksMax }
func (f *Fake) ProtocolInfo() string { return f.protocolInfo }

// SetProtocolInfo overrides the advertised protocol-info list; tests use
// it to exercise content-format whitelisting.
func (f *Fake) SetProtocolInfo(protocolInfo string) { f.protocolInfo = protocolInfo }

func (f *Fake) indexOf(id int32) int {
	for i, song := range f.queue {
		if song.MpdID == id {
			return i
		}
	}
	return -1
}
