package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeFFProbe writes a tiny shell script that prints a fixed duration,
// standing in for ffprobe so the test does not depend on it being
// installed.
func fakeFFProbe(t *testing.T, duration string, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffprobe.sh")
	script := "#!/bin/sh\necho " + duration + "\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mkv")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newVerifier(t *testing.T, ffprobe string) *Verifier {
	return New(Options{ProbeTimeout: 2 * time.Second, FFProbeBin: ffprobe}, nil, logrus.NewEntry(logrus.New()))
}

// fakeSink records every AppendEvent call made against it.
type fakeSink struct {
	events []string
}

func (f *fakeSink) AppendEvent(eventType, details, status string) error {
	f.events = append(f.events, eventType+"|"+details+"|"+status)
	return nil
}

func TestCheckZeroByteFileIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mkv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	v := newVerifier(t, fakeFFProbe(t, "100", 0))
	res := v.Check(context.Background(), path)
	require.Equal(t, Corrupt, res.Kind)
}

func TestCheckHealthyFile(t *testing.T) {
	path := writeFile(t, 2048)
	v := newVerifier(t, fakeFFProbe(t, "200.5", 0))
	res := v.Check(context.Background(), path)
	require.Equal(t, Healthy, res.Kind)
	require.Equal(t, 200*time.Second+500*time.Millisecond, res.Duration)
}

func TestCheckFFProbeFailureIsCorrupt(t *testing.T) {
	path := writeFile(t, 2048)
	v := newVerifier(t, fakeFFProbe(t, "", 1))
	res := v.Check(context.Background(), path)
	require.Equal(t, Corrupt, res.Kind)
}

func TestCheckIgnoresShortDurationWhenConfigured(t *testing.T) {
	path := writeFile(t, 2048)
	v := New(Options{IgnoreSamples: true, MinDuration: 180 * time.Second, ProbeTimeout: 2 * time.Second, FFProbeBin: fakeFFProbe(t, "5", 0)}, nil, logrus.NewEntry(logrus.New()))
	res := v.Check(context.Background(), path)
	require.Equal(t, Ignored, res.Kind)
}

func TestCheckPersistsEveryResultToSink(t *testing.T) {
	path := writeFile(t, 2048)
	sink := &fakeSink{}
	v := New(Options{ProbeTimeout: 2 * time.Second, FFProbeBin: fakeFFProbe(t, "200.5", 0)}, sink, logrus.NewEntry(logrus.New()))
	res := v.Check(context.Background(), path)
	require.Equal(t, Healthy, res.Kind)
	require.Len(t, sink.events, 1)
	require.Contains(t, sink.events[0], "health|")
	require.Contains(t, sink.events[0], string(Healthy))
}

func TestRecentKeepsLastTwenty(t *testing.T) {
	v := newVerifier(t, fakeFFProbe(t, "10", 0))
	for i := 0; i < 25; i++ {
		path := writeFile(t, 1024)
		v.Check(context.Background(), path)
	}
	require.Len(t, v.Recent(), 20)
}
