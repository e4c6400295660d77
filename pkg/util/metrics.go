package util

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

// WritePoint hands a point to the write API on its own goroutine.
func WritePoint(w api.WriteAPI, measurement string, tags map[string]string, fields map[string]interface{}) {
	if w == nil {
		return
	}
	go w.WritePoint(influxdb2.NewPoint(measurement, tags, fields, time.Now()))
}

func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
