// Package mididarwin is the CoreMIDI backend. On other systems New returns
// contracts.ErrUnsupportedOS.
package mididarwin

// Name identifies the backend.
const Name = "coremidi"
