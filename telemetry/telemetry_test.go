// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	tel := New()
	tel.RecordCompile(Tier1, 3*time.Microsecond)
	tel.RecordCompile(Tier2, 5*time.Microsecond)
	tel.RecordCompile(Tier2, time.Microsecond)
	tel.RecordPass(PassDCE, 7)
	tel.RecordPass(PassStrength, 2)
	tel.RecordPass(PassCSE, 4)
	tel.RecordPass(PassLICM, 6)
	tel.CacheHit()
	tel.CacheHit()
	tel.CacheMiss()
	tel.Deopt()
	tel.GuardFail()
	tel.SetCacheBytes(100, 1000)

	assert.Equal(t, Totals{
		Tier1Compiled:      1,
		Tier1CompileNanos:  3000,
		Tier2Compiled:      2,
		Tier2CompileNanos:  6000,
		StrengthNanos:      2,
		CSENanos:           4,
		LICMNanos:          6,
		DCENanos:           7,
		CacheHits:          2,
		CacheMisses:        1,
		CacheUsedBytes:     100,
		CacheCapacityBytes: 1000,
		Deopts:             1,
		GuardFailures:      1,
	}, tel.Snapshot())

	assert.Equal(t, uint64(4), tel.Snapshot().PassNanos(PassCSE))
}

func TestDisabled(t *testing.T) {
	tel := New()
	tel.SetEnabled(false)
	tel.CacheHit()
	tel.RecordCompile(Tier1, time.Second)
	tel.TimePass(PassConstFold)()
	assert.Equal(t, Totals{}, tel.Snapshot())

	var none *Telemetry
	none.CacheHit()
	none.TimePass(PassRegAlloc)()
	assert.False(t, none.Enabled())
	assert.Equal(t, Totals{}, none.Snapshot())
}

func TestConcurrentUpdates(t *testing.T) {
	tel := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tel.CacheHit()
				_ = tel.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), tel.Snapshot().CacheHits)
}

// Every field must appear in the export list with its value.
func TestCountersLossless(t *testing.T) {
	var totals Totals
	v := reflect.ValueOf(&totals).Elem()
	for i := 0; i < v.NumField(); i++ {
		v.Field(i).SetUint(uint64(i + 1))
	}

	counters := totals.Counters()
	require.Len(t, counters, v.NumField())

	for i, c := range counters {
		field := v.Type().Field(i)
		assert.Equal(t, field.Tag.Get("json"), c.Name)
		assert.Equal(t, uint64(i+1), c.Value, c.Name)
	}

	b, err := json.Marshal(totals)
	require.NoError(t, err)

	var m map[string]uint64
	require.NoError(t, json.Unmarshal(b, &m))
	for _, c := range counters {
		assert.Equal(t, c.Value, m[c.Name])
	}
}

func TestRoller(t *testing.T) {
	base := time.Unix(1000, 0)
	r := NewRoller(4)

	r.Add(base, Totals{})
	r.Add(base.Add(time.Second), Totals{CacheHits: 3, CacheMisses: 1, Tier1Compiled: 2, Tier1CompileNanos: 1000})
	r.Add(base.Add(2*time.Second), Totals{CacheHits: 9, CacheMisses: 1, Tier1Compiled: 4, Tier2Compiled: 2, Tier1CompileNanos: 5000})

	v := r.View(base.Add(2*time.Second), 10*time.Second)
	assert.Equal(t, 2*time.Second, v.Window)
	assert.InDelta(t, 0.9, v.HitRate, 1e-9)
	assert.InDelta(t, 2500.0, v.CompileNanosPerSec, 1e-9)
	assert.InDelta(t, 3.0, v.BlocksPerSec, 1e-9)

	v = r.View(base.Add(2*time.Second), time.Second)
	assert.Equal(t, time.Second, v.Window)
	assert.InDelta(t, 1.0, v.HitRate, 1e-9)
	assert.InDelta(t, 4.0, v.BlocksPerSec, 1e-9)

	assert.Equal(t, View{}, r.View(base.Add(-time.Hour), time.Second))

	r.Add(base.Add(3*time.Second), Totals{})
	r.Add(base.Add(4*time.Second), Totals{})
	assert.Equal(t, 4, r.Len())
}

func TestCollector(t *testing.T) {
	tel := New()
	tel.CacheHit()
	tel.SetCacheBytes(10, 20)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(tel, "test", prometheus.Labels{"vcpu": "0"})))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, len(Totals{}.Counters()))

	values := make(map[string]float64)
	for _, f := range families {
		require.Len(t, f.GetMetric(), 1)
		m := f.GetMetric()[0]
		assert.Equal(t, "0", m.GetLabel()[0].GetValue())

		if m.GetGauge() != nil {
			values[f.GetName()] = m.GetGauge().GetValue()
		} else {
			values[f.GetName()] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 1.0, values["test_xlate_cache_hits_total"])
	assert.Equal(t, 10.0, values["test_xlate_cache_used_bytes"])
	assert.Equal(t, 20.0, values["test_xlate_cache_capacity_bytes"])
	assert.Equal(t, 0.0, values["test_xlate_deopts_total"])
}

func TestCollectorPrecision(t *testing.T) {
	tel := New()
	tel.update(func(x *Totals) { x.GuardFailures = 1<<53 + 1 })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(tel, "", nil)))

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == "xlate_guard_failures_total" {
			assert.Equal(t, float64(1<<53), f.GetMetric()[0].GetCounter().GetValue())
		}
	}

	for _, c := range tel.Snapshot().Counters() {
		if c.Name == "guard_failures" {
			assert.Equal(t, uint64(1<<53+1), c.Value)
		}
	}
}
