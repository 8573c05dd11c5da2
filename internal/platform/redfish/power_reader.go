// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stmcginnis/gofish"
	"github.com/stmcginnis/gofish/redfish"

	"github.com/ea2p/powermeter/internal/device"
)

// PowerReader handles reading power data from Redfish BMC via PowerSubsystem with fallback to deprecated Power API
type PowerReader struct {
	logger *slog.Logger

	cfg    gofish.ClientConfig // gofish client configuration
	client *gofish.APIClient   // gofish client (managed internally)

	endpoint string           // Store endpoint for logging
	strategy PowerAPIStrategy // Determined power reading strategy

	mu sync.Mutex
}

const defaultHTTPTimeout = 5 * time.Second

// NewPowerReader creates a PowerReader for the given BMC; call Init before reading
func NewPowerReader(bmc BMC, logger *slog.Logger) *PowerReader {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := bmc.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
	}

	if bmc.Insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	cfg := gofish.ClientConfig{
		Endpoint:   bmc.Endpoint,
		Username:   bmc.Username,
		Password:   bmc.Password,
		HTTPClient: httpClient,
	}

	return &PowerReader{
		logger: logger,
		cfg:    cfg,
	}
}

// Init connects to the BMC and determines the power reading strategy
func (pr *PowerReader) Init() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	client, err := gofish.Connect(pr.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to BMC at %s: %w", pr.cfg.Endpoint, err)
	}

	needsCleanup := true
	defer func() {
		if !needsCleanup {
			return
		}

		pr.client.Logout()
		pr.client = nil
	}()

	pr.client = client
	if client.Service != nil {
		pr.endpoint = client.Service.ODataID
	}

	service := pr.client.Service
	if service == nil {
		return fmt.Errorf("BMC service is not available")
	}

	chassis, err := service.Chassis()
	if err != nil {
		return fmt.Errorf("failed to get chassis collection: %w", err)
	}

	if len(chassis) == 0 {
		return fmt.Errorf("no chassis found in BMC")
	}

	strategy, err := pr.determineStrategy(chassis)
	if err != nil {
		return fmt.Errorf("failed to determine power reading strategy: %w", err)
	}

	pr.strategy = strategy
	pr.logger.Info("Power reading strategy determined",
		"endpoint", pr.endpoint, "strategy", string(strategy))

	needsCleanup = false
	return nil
}

// Close cleans up the PowerReader resources, including logging out from the BMC
func (pr *PowerReader) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.client == nil {
		return
	}

	pr.client.Logout()
	pr.client = nil
	pr.strategy = UnknownStrategy
}

// determineStrategy tests chassis until it finds one with a supported API that has data
func (pr *PowerReader) determineStrategy(chassis []*redfish.Chassis) (PowerAPIStrategy, error) {
	if len(chassis) == 0 {
		return "", fmt.Errorf("no chassis available for testing")
	}

	for i, c := range chassis {
		if c == nil {
			pr.logger.Warn("Skipping nil chassis during strategy determination", "index", i)
			continue
		}

		if _, err := pr.readPowerSubsystem(c); err == nil {
			return PowerSubsystemStrategy, nil
		} else if _, err := pr.readPower(c); err == nil {
			return PowerStrategy, nil
		}
	}

	return UnknownStrategy, fmt.Errorf(
		"neither PowerSubsystem nor Power API is available on any chassis (tested %d chassis)",
		len(chassis))
}

// ReadAll reads power consumption from all chassis via PowerSubsystem with fallback to deprecated Power API
func (pr *PowerReader) ReadAll() ([]Chassis, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.client == nil {
		return nil, fmt.Errorf("BMC client is not initialized")
	}
	if pr.client.Service == nil {
		return nil, fmt.Errorf("BMC service is not available")
	}
	if pr.strategy == UnknownStrategy {
		return nil, fmt.Errorf("power reading strategy not determined; call Init() first")
	}

	chassis, err := pr.client.Service.Chassis()
	if err != nil {
		return nil, fmt.Errorf("failed to get chassis collection: %w", err)
	}

	if len(chassis) == 0 {
		return nil, fmt.Errorf("no chassis found in BMC")
	}

	var chassisList []Chassis
	totalReadings := 0

	for i, ch := range chassis {
		if ch == nil {
			pr.logger.Warn("Skipping nil chassis", "index", i)
			continue
		}

		var readings []Reading
		switch pr.strategy {
		case PowerSubsystemStrategy:
			readings, err = pr.readPowerSubsystem(ch)
		case PowerStrategy:
			readings, err = pr.readPower(ch)
		default:
			return nil, fmt.Errorf("unknown power reading strategy: %s", pr.strategy)
		}

		if err != nil {
			pr.logger.Warn("Failed to read power data from chassis",
				"chassis_id", ch.ID, "strategy", pr.strategy, "error", err)
			continue
		}

		if len(readings) > 0 {
			chassisList = append(chassisList, Chassis{ID: ch.ID, Readings: readings})
			totalReadings += len(readings)
		}
	}

	if len(chassisList) == 0 {
		return nil, fmt.Errorf("no chassis with valid power readings found")
	}

	pr.logger.Debug("Collected power readings",
		"endpoint", pr.endpoint, "strategy", pr.strategy,
		"chassis_count", len(chassisList), "total_readings", totalReadings)

	return chassisList, nil
}

// readPowerSubsystem attempts to read power data via PowerSubsystem API (modern approach)
func (pr *PowerReader) readPowerSubsystem(chassis *redfish.Chassis) ([]Reading, error) {
	powerSubsystem, err := chassis.PowerSubsystem()
	if err != nil {
		return nil, fmt.Errorf("failed to get power subsystem: %w", err)
	}

	if powerSubsystem == nil {
		return nil, fmt.Errorf("no power subsystem available")
	}

	powerSupplies, err := powerSubsystem.PowerSupplies()
	if err != nil {
		return nil, fmt.Errorf("failed to get power supplies: %w", err)
	}

	if len(powerSupplies) == 0 {
		return nil, fmt.Errorf("no power supplies found")
	}

	var readings []Reading
	for j, powerSupply := range powerSupplies {
		if powerSupply.PowerOutputWatts == 0 {
			pr.logger.Debug("Power output reading is zero for power supply",
				"chassis_id", chassis.ID, "power_supply_index", j, "member_id", powerSupply.ID)
			continue
		}

		reading := Reading{
			SourceID:   powerSupply.ID,
			SourceName: powerSupply.Name,
			SourceType: PowerSupplySource,
			Power:      Power(powerSupply.PowerOutputWatts) * device.Watt,
		}

		readings = append(readings, reading)

		pr.logger.Debug("Successfully read power from power supply",
			"endpoint", pr.endpoint,
			"chassis_id", chassis.ID,
			"power_supply_index", j,
			"member_id", powerSupply.ID,
			"name", powerSupply.Name,
			"power_output_watts", powerSupply.PowerOutputWatts,
			"power_input_watts", powerSupply.PowerInputWatts,
			"efficiency_percent", powerSupply.EfficiencyPercent)
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no valid power readings found from power supplies")
	}

	return readings, nil
}

// readPower attempts to read power data via deprecated Power API (fallback)
func (pr *PowerReader) readPower(chassis *redfish.Chassis) ([]Reading, error) {
	power, err := chassis.Power()
	if err != nil {
		return nil, fmt.Errorf("failed to get power information: %w", err)
	}

	if power == nil || len(power.PowerControl) == 0 {
		return nil, fmt.Errorf("no power control information available")
	}

	var readings []Reading
	for j, powerControl := range power.PowerControl {
		if powerControl.PowerConsumedWatts == 0 {
			pr.logger.Debug("Power consumption reading is zero for PowerControl entry",
				"chassis_id", chassis.ID, "power_control_index", j, "member_id", powerControl.MemberID)
			continue
		}

		reading := Reading{
			SourceID:   powerControl.MemberID,
			SourceName: powerControl.Name,
			SourceType: PowerControlSource,
			Power:      Power(powerControl.PowerConsumedWatts) * device.Watt,
		}

		readings = append(readings, reading)

		pr.logger.Debug("Successfully read power from PowerControl entry",
			"endpoint", pr.endpoint,
			"chassis_id", chassis.ID,
			"power_control_index", j,
			"member_id", powerControl.MemberID,
			"name", powerControl.Name,
			"physical_context", powerControl.PhysicalContext,
			"power_watts", powerControl.PowerConsumedWatts)
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no valid power readings found from power controls")
	}

	return readings, nil
}
