/**
 * Copyright (c) 2024 Peking University and Peking University
 * Changsha Institute for Computing and Digital Economy
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */


package db

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"CranePowerCtl/internal/config"
)

const Measurement = "gpu_metrics"

var log = logrus.WithField("component", "InfluxDB")

type InfluxDB struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	bucket string
}

var _ Sink = (*InfluxDB)(nil)

func NewInfluxDB(ctx context.Context, cfg *config.InfluxDBConfig) (*InfluxDB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("influxdb config is nil")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping InfluxDB: %w", err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("InfluxDB at %s is not ready", cfg.URL)
	}

	log.Debugf("Writing gpu metrics to %s, bucket %s", cfg.URL, cfg.Bucket)
	return &InfluxDB{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}, nil
}

func (db *InfluxDB) SaveGpuMetrics(ctx context.Context, s *Sample) error {
	if err := db.writer.WritePoint(ctx, newPoint(s)); err != nil {
		return fmt.Errorf("failed to write gpu metrics to %s: %w", db.bucket, err)
	}
	return nil
}

func (db *InfluxDB) Close() error {
	db.client.Close()
	return nil
}

func newPoint(s *Sample) *write.Point {
	tags := map[string]string{"card": s.Card}
	if s.Host != "" {
		tags["host"] = s.Host
	}
	if s.Device != "" {
		tags["device"] = s.Device
	}
	m := s.Metrics
	return influxdb2.NewPoint(Measurement, tags, map[string]interface{}{
		"power_w":  m.Power,
		"energy_j": m.Energy,
		"temp_c":   m.Temp,
		"util":     m.Util,
		"mem_util": m.MemUtil,
	}, s.Time)
}
