package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// MockWriteAPI discards everything. It is the default until an InfluxDB client is configured.
type MockWriteAPI struct{}

func (m *MockWriteAPI) WriteRecord(line string) {}
func (m *MockWriteAPI) WritePoint(point *write.Point) {}
func (m *MockWriteAPI) Flush() {}
func (m *MockWriteAPI) Close() {}
func (m *MockWriteAPI) Errors() <-chan error { return nil }

// RecordingWriteAPI keeps every point it receives, keyed by measurement name.
type RecordingWriteAPI struct {
	mu     sync.Mutex
	points map[string][]*write.Point
}

func NewRecordingWriteAPI() *RecordingWriteAPI {
	return &RecordingWriteAPI{points: make(map[string][]*write.Point)}
}

func (r *RecordingWriteAPI) WriteRecord(line string) {}

func (r *RecordingWriteAPI) WritePoint(point *write.Point) {
	r.mu.Lock()
	r.points[point.Name()] = append(r.points[point.Name()], point)
	r.mu.Unlock()
}

func (r *RecordingWriteAPI) Flush() {}
func (r *RecordingWriteAPI) Close() {}
func (r *RecordingWriteAPI) Errors() <-chan error { return nil }

// Count returns how many points were written for measurement.
func (r *RecordingWriteAPI) Count(measurement string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points[measurement])
}
