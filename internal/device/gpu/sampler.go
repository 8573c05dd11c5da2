// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"errors"
	"fmt"

	"github.com/ea2p/powermeter/internal/device"
)

// Sampler adapts a GPUPowerMeter to device.PowerSampler, one rail per device
type Sampler struct {
	meter GPUPowerMeter
	rails map[string]int
	names []string
}

var _ device.PowerSampler = (*Sampler)(nil)

// NewSampler returns a power sampler over the devices of an initialized meter
func NewSampler(meter GPUPowerMeter) *Sampler {
	s := &Sampler{meter: meter, rails: map[string]int{}}
	for _, dev := range meter.Devices() {
		rail := RailName(meter.Vendor(), dev.Index)
		s.rails[rail] = dev.Index
		s.names = append(s.names, rail)
	}
	return s
}

func (s *Sampler) Name() string {
	return string(s.meter.Vendor()) + "-gpu"
}

func (s *Sampler) Rails() []string {
	return append([]string(nil), s.names...)
}

// Sample reads every device. Devices that fail are omitted and reported in
// the returned error together with the readings of the others.
func (s *Sampler) Sample() (map[string]device.Power, error) {
	ret := make(map[string]device.Power, len(s.rails))
	var errs []error
	for _, rail := range s.names {
		p, err := s.meter.GetPowerUsage(s.rails[rail])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rail, err))
			continue
		}
		ret[rail] = p
	}
	return ret, errors.Join(errs...)
}
