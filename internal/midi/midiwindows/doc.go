// Package midiwindows is the Windows multimedia (WinMM) backend. On other
// systems New returns contracts.ErrUnsupportedOS.
package midiwindows

// Name identifies the backend.
const Name = "winmm"
