package mqttbridge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	historyMeasurement = "device_state"
	pingTimeout        = 5 * time.Second

	// Batching for the non-blocking write API.
	historyBatchSize     = 100
	historyFlushInterval = 1000 // milliseconds
)

// History records device state changes.
type History interface {
	Record(device string, payload []byte, at time.Time)
	Close()
}

type nopHistory struct{}

func (nopHistory) Record(string, []byte, time.Time) {}
func (nopHistory) Close()                           {}

// influxHistory writes state points to InfluxDB v2 through the batching
// non-blocking write API.
type influxHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	done     chan struct{}
}

func newInfluxHistory(cfg InfluxConfig, logger *zap.Logger) (History, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(historyBatchSize).
			SetFlushInterval(historyFlushInterval))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	h := &influxHistory{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		for err := range h.writeAPI.Errors() {
			logger.Warn("History write failed", zap.Error(err))
		}
	}()
	return h, nil
}

// statePoint stores numeric payloads as value and anything else as state.
func statePoint(device string, payload []byte, at time.Time) *write.Point {
	fields := map[string]any{}
	if v, err := strconv.ParseFloat(string(payload), 64); err == nil {
		fields["value"] = v
	} else {
		fields["state"] = string(payload)
	}
	return write.NewPoint(historyMeasurement, map[string]string{"device": device}, fields, at)
}

func (h *influxHistory) Record(device string, payload []byte, at time.Time) {
	h.writeAPI.WritePoint(statePoint(device, payload, at))
}

// Close flushes pending points and closes the client.
func (h *influxHistory) Close() {
	h.writeAPI.Flush()
	h.client.Close()
	select {
	case <-h.done:
	case <-time.After(pingTimeout):
	}
}
