// Command audioscope-feed is a synthetic producer for local development and
// load testing. It connects to a running gateway as the producer device and
// streams generated PCM frames at a fixed cadence.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/apetrei/audioscope/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "ws://localhost:8080/ws", "gateway producer endpoint")
	signalName := flag.String("signal", "sine", "signal to generate: silence, sine, square, ramp, noise")
	freq := flag.Float64("freq", 1000, "tone frequency in Hz (sine and square)")
	amp := flag.Int("amp", 8000, "peak amplitude (0–32767)")
	rate := flag.Int("rate", 16000, "sample rate in Hz")
	chunk := flag.Int("chunk", 128, "samples per frame")
	interval := flag.Duration("interval", 100*time.Millisecond, "time between frames")
	flag.Parse()

	gen, err := newGenerator(*signalName, *freq, float64(*amp), *rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audioscope-feed: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		slog.Error("dial failed", "addr", *addr, "err", err)
		return 1
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed stopped")

	hello, _ := json.Marshal(telemetry.Hello{
		Source: "audioscope-feed",
		Status: "connected",
		Type:   "audio_processor",
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		slog.Error("hello failed", "err", err)
		return 1
	}

	// Drain inbound messages (welcome, pings) so the connection stays healthy.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	slog.Info("feeding",
		"addr", *addr, "signal", *signalName, "rate", *rate,
		"chunk", *chunk, "interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var sent uint64
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping", "frames_sent", sent)
			return 0
		case <-ticker.C:
			ts := uint32(time.Since(start).Milliseconds())
			frame := buildFrame(ts, gen(*chunk), *rate, *chunk)
			if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				if ctx.Err() != nil {
					return 0
				}
				slog.Error("write failed", "err", err)
				return 1
			}
			sent++
		}
	}
}

// buildFrame encodes samples into the binary wire format.
func buildFrame(ts uint32, samples []int16, rate, chunk int) []byte {
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	return telemetry.Encode(telemetry.RawFrame{
		Type:       telemetry.TypeAudioFrame,
		Timestamp:  ts,
		SampleRate: rate,
		ChunkSize:  chunk,
		Payload:    payload,
	})
}

// newGenerator returns a function producing n samples of the chosen signal.
// Generators keep phase across calls so tones are continuous frame to frame.
func newGenerator(name string, freq, amp float64, rate int) (func(n int) []int16, error) {
	var phase float64
	step := 2 * math.Pi * freq / float64(rate)

	switch name {
	case "silence":
		return func(n int) []int16 {
			return make([]int16, n)
		}, nil
	case "sine":
		return func(n int) []int16 {
			out := make([]int16, n)
			for i := range out {
				out[i] = int16(amp * math.Sin(phase))
				phase += step
			}
			return out
		}, nil
	case "square":
		return func(n int) []int16 {
			out := make([]int16, n)
			for i := range out {
				if math.Sin(phase) >= 0 {
					out[i] = int16(amp)
				} else {
					out[i] = int16(-amp)
				}
				phase += step
			}
			return out
		}, nil
	case "ramp":
		var v float64
		return func(n int) []int16 {
			out := make([]int16, n)
			for i := range out {
				out[i] = int16(v)
				v += amp / 64
				if v > amp {
					v = -amp
				}
			}
			return out
		}, nil
	case "noise":
		return func(n int) []int16 {
			out := make([]int16, n)
			for i := range out {
				out[i] = int16((rand.Float64()*2 - 1) * amp)
			}
			return out
		}, nil
	}
	return nil, fmt.Errorf("unknown signal %q", name)
}
