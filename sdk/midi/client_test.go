package midi

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewMIDIClientWithLoopback(t *testing.T) {
	log := logger.NewZapLoggerFrom(zaptest.NewLogger(t))
	loop := NewLoopback(log, "Virtual")
	client, err := NewMIDIClient(
		contracts.WithLogger(log),
		contracts.WithBackend(loop),
		contracts.WithClientName("midikit test"),
		contracts.WithQueueSize(4),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	if client.Backend() != "loopback" {
		t.Fatalf("Backend() = %q", client.Backend())
	}
	ports, err := client.ListPorts(contracts.Input)
	if err != nil || len(ports) != 1 || ports[0].Name != "Virtual" {
		t.Fatalf("ListPorts = %v, %v", ports, err)
	}

	in, err := client.OpenInput(0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := client.OpenOutput(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Send([]byte{0xB0, 64, 127}); err != nil {
		t.Fatal(err)
	}
	m, err := in.RecvBlocking(time.Second)
	if err != nil || !bytes.Equal(m.Data, []byte{0xB0, 64, 127}) {
		t.Fatalf("RecvBlocking = %v, %v", m, err)
	}
}

func TestApplyDefaultOptions(t *testing.T) {
	opts, err := applyDefaultOptions(contracts.WithLogger(logger.NewNopLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if opts.ClientName != contracts.DefaultClientName || opts.QueueSize != contracts.DefaultQueueSize {
		t.Fatalf("defaults = %q, %d", opts.ClientName, opts.QueueSize)
	}
	if opts.Ignore == nil || opts.Ignore.SysEx || !opts.Ignore.Timing || !opts.Ignore.ActiveSensing {
		t.Fatalf("ignore defaults = %+v", opts.Ignore)
	}

	opts, err = applyDefaultOptions(
		contracts.WithLogger(logger.NewNopLogger()),
		contracts.WithCoreMIDIConfig(contracts.CoreMIDIConfig{ClientName: "legacy"}),
	)
	if err != nil || opts.ClientName != "legacy" {
		t.Fatalf("client name from CoreMIDIConfig = %q, %v", opts.ClientName, err)
	}

	if _, err := applyDefaultOptions(contracts.WithQueueSize(-1)); err == nil {
		t.Fatal("negative queue size accepted")
	}
}

func TestLogFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "midi.log")
	opts, err := applyDefaultOptions(contracts.WithLogFilePath(path))
	if err != nil {
		t.Fatal(err)
	}
	opts.Logger.Info("written to file", opts.Logger.Field().String("port", "Virtual"))
	if err := opts.Logger.Sync(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") || !strings.Contains(string(data), `"port":"Virtual"`) {
		t.Fatalf("log file = %s", data)
	}
}
