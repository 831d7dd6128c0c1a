// SPDX-License-Identifier: MIT

package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/gnss"
)

// InfluxSink records outcomes as an InfluxDB time series: one "pvt" point
// per fix and one "solve_failure" point per failed epoch.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxSink connects to the configured InfluxDB instance.
func NewInfluxSink(cfg config.Influx) (*InfluxSink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("influx sink: no URL configured")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Publish writes one point per outcome, timestamped with the epoch's
// nominal sampling instant.
func (s *InfluxSink) Publish(ctx context.Context, o gnss.Outcome) error {
	if fix := o.Fix; fix != nil {
		p := influxdb2.NewPoint("pvt",
			map[string]string{
				"degraded": fmt.Sprintf("%t", fix.Degraded),
			},
			map[string]interface{}{
				"lat_deg":         fix.LatDeg,
				"lon_deg":         fix.LonDeg,
				"alt_m":           fix.AltM,
				"vel_east_m_s":    fix.VelEastMS,
				"vel_north_m_s":   fix.VelNorthMS,
				"vel_up_m_s":      fix.VelUpMS,
				"clock_bias_s":    fix.ClockBiasS,
				"clock_drift_s_s": fix.ClockDriftS,
				"sats":            fix.Satellites,
				"gdop":            fix.GDOP,
			},
			o.Epoch.Time())
		return s.write.WritePoint(ctx, p)
	}

	if fail := o.Failure; fail != nil {
		p := influxdb2.NewPoint("solve_failure",
			map[string]string{"kind": string(fail.Kind)},
			map[string]interface{}{"reason": fail.Reason},
			o.Epoch.Time())
		return s.write.WritePoint(ctx, p)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
