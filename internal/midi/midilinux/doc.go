// Package midilinux is the ALSA rawmidi backend. On other systems New returns
// contracts.ErrUnsupportedOS.
package midilinux

// Name identifies the backend.
const Name = "alsa"
