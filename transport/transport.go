package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/codec"
)

// Profile identifies the Bluetooth audio profile and role of a
// transport.
type Profile uint8

const (
	// ProfileA2DPSource streams high-quality audio to a remote sink.
	ProfileA2DPSource Profile = iota + 1
	// ProfileA2DPSink receives high-quality audio from a remote source.
	ProfileA2DPSink
	// ProfileHFPHandsFree is the hands-free role of the HFP profile.
	ProfileHFPHandsFree
	// ProfileHFPAudioGateway is the audio-gateway role of the HFP
	// profile.
	ProfileHFPAudioGateway
	// ProfileHSPHeadset is the headset role of the HSP profile.
	ProfileHSPHeadset
	// ProfileHSPAudioGateway is the audio-gateway role of the HSP
	// profile.
	ProfileHSPAudioGateway
)

// String returns the profile name.
func (p Profile) String() string {
	switch p {
	case ProfileA2DPSource:
		return "A2DP Source"
	case ProfileA2DPSink:
		return "A2DP Sink"
	case ProfileHFPHandsFree:
		return "HFP Hands-Free"
	case ProfileHFPAudioGateway:
		return "HFP Audio Gateway"
	case ProfileHSPHeadset:
		return "HSP Headset"
	case ProfileHSPAudioGateway:
		return "HSP Audio Gateway"
	default:
		return fmt.Sprintf("profile(%d)", uint8(p))
	}
}

// IsSCO reports whether the profile carries audio over a SCO link.
func (p Profile) IsSCO() bool {
	return p >= ProfileHFPHandsFree
}

// State is the transport lifecycle state driven by the remote device
// through the embedder.
type State uint8

const (
	// StateIdle means the transport exists but no stream is configured.
	StateIdle State = iota
	// StatePending means the remote device requested streaming and the
	// socket is being acquired.
	StatePending
	// StateActive means audio is flowing.
	StateActive
	// StatePaused means the stream is suspended.
	StatePaused
)

// Volume is one audio channel's volume state.
type Volume struct {
	// Level ranges from 0 to pcm.MaxVolume.
	Level uint8
	Muted bool
}

// Options configures a new transport.
type Options struct {
	// Address is the remote device address the transport belongs to.
	Address string

	Profile Profile
	Codec   codec.Config

	SampleRate uint32
	Channels   int

	// SoftVolume enables volume scaling inside the IO loop. When
	// false the volume is passed through to the remote device and PCM
	// samples are relayed untouched.
	SoftVolume bool

	// Acquire obtains the transport socket from the embedder (BlueZ or
	// oFono), filling in the socket via SetBTSocket. Release gives it
	// back. Either may be nil for transports whose socket is managed
	// externally.
	Acquire func(*Transport) error
	Release func(*Transport) error
}

// Transport is one Bluetooth audio stream endpoint and the shared state
// of its IO goroutine.
type Transport struct {
	// ID uniquely identifies this transport instance in logs and over
	// the control API.
	ID      uuid.UUID
	Address string

	profile    Profile
	codecCfg   codec.Config
	sampleRate uint32
	channels   int
	softVolume bool

	acquire func(*Transport) error
	release func(*Transport) error

	mu       sync.RWMutex
	state    State
	btFD     int
	mtuRead  int
	mtuWrite int
	volume   [2]Volume
	delay    uint16

	// HFP service-level indicators steering SCO acquisition.
	callActive bool
	callSetup  bool

	spkMuted bool
	micMuted bool

	sigR, sigW int
	stopped    atomic.Bool

	// PCM is the A2DP FIFO endpoint (playback for source transports,
	// capture for sink transports). SpkPCM and MicPCM are the two
	// directions of a SCO transport.
	PCM    *PCM
	SpkPCM *PCM
	MicPCM *PCM

	// Drained is signalled by the IO goroutine when staged audio has
	// been flushed out after a SignalPCMSync request.
	Drained *sync.Cond
}

// New creates a transport with an unconnected socket and PCM endpoints
// and an open signal pipe.
func New(opts Options) (*Transport, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("transport: codec configuration cannot be nil")
	}
	if opts.SampleRate == 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("transport: invalid PCM geometry: %d Hz, %d channels",
			opts.SampleRate, opts.Channels)
	}

	var pipefd [2]int
	if err := unix.Pipe2(pipefd[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("transport: signal pipe creation failed: %w", err)
	}

	t := &Transport{
		ID:         uuid.New(),
		Address:    opts.Address,
		profile:    opts.Profile,
		codecCfg:   opts.Codec,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		softVolume: opts.SoftVolume,
		acquire:    opts.Acquire,
		release:    opts.Release,
		btFD:       -1,
		sigR:       pipefd[0],
		sigW:       pipefd[1],
		PCM:        NewPCM(),
		SpkPCM:     NewPCM(),
		MicPCM:     NewPCM(),
	}
	t.volume[0] = Volume{Level: 127}
	t.volume[1] = Volume{Level: 127}
	t.Drained = sync.NewCond(&t.mu)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"id":       t.ID.String(),
		"address":  t.Address,
		"profile":  t.profile.String(),
		"codec":    opts.Codec.CodecID().String(),
	}).Info("Transport created")
	return t, nil
}

// Profile returns the transport's Bluetooth profile.
func (t *Transport) Profile() Profile { return t.profile }

// Codec returns the negotiated codec configuration.
func (t *Transport) Codec() codec.Config { return t.codecCfg }

// SampleRate returns the PCM sampling rate in Hz.
func (t *Transport) SampleRate() uint32 { return t.sampleRate }

// Channels returns the PCM channel count.
func (t *Transport) Channels() int { return t.channels }

// SoftVolume reports whether the IO loop scales samples itself.
func (t *Transport) SoftVolume() bool { return t.softVolume }

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState updates the lifecycle state.
func (t *Transport) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// SetBTSocket attaches the transport socket and its negotiated MTUs.
// Used by the embedder's acquire path.
func (t *Transport) SetBTSocket(fd, mtuRead, mtuWrite int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.btFD = fd
	t.mtuRead = mtuRead
	t.mtuWrite = mtuWrite
}

// BTSocket returns the transport socket descriptor and MTUs. The
// descriptor is -1 while the socket is not acquired.
func (t *Transport) BTSocket() (fd, mtuRead, mtuWrite int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.btFD, t.mtuRead, t.mtuWrite
}

// CloseBTSocket closes the transport socket without invoking the
// release callback, used when the remote end already hung up.
func (t *Transport) CloseBTSocket() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.btFD != -1 {
		unix.Close(t.btFD)
		t.btFD = -1
	}
}

// SetVolume updates one channel's volume.
func (t *Transport) SetVolume(channel int, level uint8, muted bool) error {
	if channel < 0 || channel >= len(t.volume) {
		return fmt.Errorf("transport: invalid volume channel: %d", channel)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume[channel] = Volume{Level: level, Muted: muted}
	return nil
}

// Volume returns one channel's volume state.
func (t *Transport) Volume(channel int) Volume {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if channel < 0 || channel >= len(t.volume) {
		return Volume{}
	}
	return t.volume[channel]
}

// SetDelay stores the IO loop's current processing delay in 1/100 ms
// units, exposed to clients for latency compensation.
func (t *Transport) SetDelay(delay uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = delay
}

// Delay returns the current processing delay in 1/100 ms units.
func (t *Transport) Delay() uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.delay
}

// SetCallIndicators updates the HFP call and call-setup indicators.
// The SCO loop consults them on every control event to decide whether
// the audio link should be up at all.
func (t *Transport) SetCallIndicators(callActive, callSetup bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callActive = callActive
	t.callSetup = callSetup
}

// CallIndicators returns the HFP call and call-setup indicators.
func (t *Transport) CallIndicators() (callActive, callSetup bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.callActive, t.callSetup
}

// SetSpeakerMuted mutes or unmutes the SCO speaker direction.
func (t *Transport) SetSpeakerMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spkMuted = muted
}

// SpeakerMuted reports the SCO speaker mute state.
func (t *Transport) SpeakerMuted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spkMuted
}

// SetMicMuted mutes or unmutes the SCO microphone direction.
func (t *Transport) SetMicMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.micMuted = muted
}

// MicMuted reports the SCO microphone mute state.
func (t *Transport) MicMuted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.micMuted
}

// Acquire asks the embedder for the transport socket. A transport
// without an acquire callback is assumed to already own its socket.
func (t *Transport) Acquire() error {
	if t.acquire == nil {
		return nil
	}
	return t.acquire(t)
}

// Release gives the transport socket back to the embedder.
func (t *Transport) Release() error {
	if t.release == nil {
		return nil
	}
	return t.release(t)
}

// Stop requests cooperative termination of the IO goroutine: the stop
// flag is raised and a ping wakes the goroutine's poll so the flag is
// observed promptly. Resources are torn down by the goroutine itself at
// its next checkpoint, never mid-operation.
func (t *Transport) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Transport.Stop",
		"id":       t.ID.String(),
	}).Debug("Stopping transport IO")
	t.SendSignal(SignalPing)
}

// Stopping reports whether cooperative termination was requested.
func (t *Transport) Stopping() bool {
	return t.stopped.Load()
}

// SignalDrained wakes any goroutine waiting in WaitDrained.
func (t *Transport) SignalDrained() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Drained.Broadcast()
}

// WaitDrained requests a drain of staged audio and blocks until the IO
// goroutine confirms it.
func (t *Transport) WaitDrained() error {
	if err := t.SendSignal(SignalPCMSync); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Drained.Wait()
	return nil
}

// Close releases every descriptor the transport owns. The IO goroutine
// must have terminated before Close is called.
func (t *Transport) Close() {
	t.PCM.Release()
	t.SpkPCM.Release()
	t.MicPCM.Release()
	t.CloseBTSocket()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sigR != -1 {
		unix.Close(t.sigR)
		unix.Close(t.sigW)
		t.sigR, t.sigW = -1, -1
	}
	logrus.WithFields(logrus.Fields{
		"function": "Transport.Close",
		"id":       t.ID.String(),
	}).Info("Transport closed")
}
