package main

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/x120x/ups-monitor/internal/monitor"
)

const coolingFanSysPath = "/sys/devices/platform/cooling_fan"

// systemStats reads SoC telemetry through vcgencmd and sysfs. Every reading
// is best-effort; a missing utility or sysfs node yields absent values.
type systemStats struct{}

func newSystemStats() monitor.StatsSource {
	return systemStats{}
}

func (systemStats) Snapshot() monitor.SystemStats {
	return monitor.SystemStats{
		CPUVolts:   readVcgencmdMetric([]string{"pmic_read_adc", "VDD_CORE_V"}, "V"),
		CPUAmps:    readVcgencmdMetric([]string{"pmic_read_adc", "VDD_CORE_A"}, "A"),
		CPUTemp:    readVcgencmdMetric([]string{"measure_temp"}, "'C"),
		InputVolts: readVcgencmdMetric([]string{"pmic_read_adc", "EXT5V_V"}, "V"),
		PowerWatts: powerConsumptionWatts(),
		FanRPM:     fanRPM(),
	}
}

// readVcgencmdMetric runs vcgencmd and parses a single "name=1.23V" style
// line, stripping the given unit suffix.
func readVcgencmdMetric(args []string, strip string) *float32 {
	output, err := exec.Command("vcgencmd", args...).Output()
	if err != nil {
		log.Debugf("Error running vcgencmd %s: %v", strings.Join(args, " "), err)
		return nil
	}
	v, err := parseMetric(string(output), strip)
	if err != nil {
		log.Debugf("Error parsing vcgencmd %s output: %v", strings.Join(args, " "), err)
		return nil
	}
	return v
}

func parseMetric(output, strip string) (*float32, error) {
	parts := strings.SplitN(output, "=", 2)
	if len(parts) != 2 {
		return nil, strconv.ErrSyntax
	}
	s := strings.TrimSuffix(strings.TrimSpace(parts[1]), strip)
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return nil, err
	}
	v := float32(f)
	return &v, nil
}

// powerConsumptionWatts sums amperage * voltage over every PMIC rail that
// reports both.
func powerConsumptionWatts() *float32 {
	output, err := exec.Command("vcgencmd", "pmic_read_adc").Output()
	if err != nil {
		log.Debugf("Error running vcgencmd pmic_read_adc: %v", err)
		return nil
	}
	return parseWatts(string(output))
}

// parseWatts pairs "RAIL_A current(n)=1.23A" lines with their "RAIL_V"
// counterparts. Rails missing either half are skipped.
func parseWatts(output string) *float32 {
	amperages := map[string]float32{}
	voltages := map[string]float32{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		label := fields[0]
		if len(label) < 2 {
			continue
		}
		value := fields[len(fields)-1]
		eq := strings.SplitN(value, "=", 2)
		if len(eq) != 2 || len(eq[1]) < 2 {
			continue
		}
		f, err := strconv.ParseFloat(eq[1][:len(eq[1])-1], 32)
		if err != nil {
			continue
		}
		rail := label[:len(label)-2]
		if strings.HasSuffix(label, "A") {
			amperages[rail] = float32(f)
		} else {
			voltages[rail] = float32(f)
		}
	}
	var watts float32
	found := false
	for rail, amps := range amperages {
		if volts, ok := voltages[rail]; ok {
			watts += amps * volts
			found = true
		}
	}
	if !found {
		return nil
	}
	return &watts
}

// fanRPM reads the cooling fan speed from sysfs. Returns a display string as
// there are several distinct failure modes worth surfacing in the log.
func fanRPM() string {
	var fanFile string
	err := filepath.WalkDir(coolingFanSysPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "fan1_input" {
			fanFile = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil || fanFile == "" {
		return "no fan detected"
	}
	data, err := os.ReadFile(fanFile)
	if err != nil {
		return "fan RPM unavailable"
	}
	return strings.TrimSpace(string(data)) + " RPM"
}
