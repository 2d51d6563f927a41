package media

// Player is the native playback surface an adapter drives.
type Player interface {
	Play()
	Pause()
	Seek(t float64)
	SetSpeed(rate float64)
	SetMuted(muted bool)
	Playing() bool
	Muted() bool
	Position() float64
}
