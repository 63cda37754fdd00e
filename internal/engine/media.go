package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// LocalMedia owns the local participant's outgoing audio and video
// tracks. The capture pipeline (out of scope here) feeds it RTP packets;
// the engine attaches its tracks to every PeerLink.
type LocalMedia struct {
	mu    sync.RWMutex
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	released bool
}

// NewLocalMedia creates an Opus audio track and a VP8 video track.
func NewLocalMedia(streamID string) (*LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	return &LocalMedia{audio: audio, video: video}, nil
}

// Tracks returns the current outgoing tracks.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracks := make([]webrtc.TrackLocal, 0, 2)
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

// WriteAudioRTP forwards a captured audio packet to every peer.
func (m *LocalMedia) WriteAudioRTP(p *rtp.Packet) error {
	m.mu.RLock()
	track := m.audio
	m.mu.RUnlock()
	if track == nil {
		return fmt.Errorf("no audio track")
	}
	return track.WriteRTP(p)
}

// WriteVideoRTP forwards a captured video packet to every peer.
func (m *LocalMedia) WriteVideoRTP(p *rtp.Packet) error {
	m.mu.RLock()
	track := m.video
	m.mu.RUnlock()
	if track == nil {
		return fmt.Errorf("no video track")
	}
	return track.WriteRTP(p)
}

// swap records the replacement track of the given kind. Called from the
// engine loop during ReplaceTrack.
func (m *LocalMedia) swap(track *webrtc.TrackLocalStaticRTP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		m.audio = track
	} else {
		m.video = track
	}
}

// Release drops track references; further writes fail. Idempotent.
func (m *LocalMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	m.audio = nil
	m.video = nil
}

// pliInterval is how often a keyframe is requested for a live remote
// video track.
const pliInterval = 3 * time.Second

// requestKeyframes periodically sends a PLI for the given remote track
// until the peer connection closes.
func requestKeyframes(pc *webrtc.PeerConnection, ssrc webrtc.SSRC, done <-chan struct{}) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
			})
			if err != nil {
				return
			}
		}
	}
}
