package sensors

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/verdanterra/fieldnode/config"
)

// Namespace under which sensor configurations are persisted.
const storeNamespace = "sensors"

const indexKey = "index"

var persistedFields = []string{"type", "name", "subzone", "mode", "active", "interval", "address", "bus_addr"}

// recordKey identifies one persisted sensor entry. One-wire entries carry
// their device identity so several sensors can share a bus pin.
func recordKey(cfg config.SensorConfig) string {
	if cfg.Address != "" {
		return fmt.Sprintf("%d:%s", cfg.Pin, cfg.Address)
	}
	return strconv.Itoa(cfg.Pin)
}

func fieldKey(key, field string) string {
	return key + "_" + field
}

// persistLocked writes every config field as an individually keyed value and
// refreshes the index of active entries. Persistence failures are logged and
// do not roll back the in-memory acceptance: the node keeps operating with
// its last-known-good configuration.
func (r *Registry) persistLocked(cfg config.SensorConfig) {
	if r.deps.Store == nil {
		return
	}
	key := recordKey(cfg)
	fields := map[string]string{
		"type":     cfg.Type,
		"name":     cfg.Name,
		"subzone":  cfg.Subzone,
		"mode":     string(cfg.Mode),
		"active":   strconv.FormatBool(cfg.IsActive()),
		"interval": cfg.Interval.Duration.String(),
		"address":  cfg.Address,
		"bus_addr": strconv.FormatUint(uint64(cfg.BusAddress), 10),
	}
	for field, value := range fields {
		if err := r.deps.Store.Save(storeNamespace, fieldKey(key, field), value); err != nil {
			r.logger.Warn().Err(err).Str("entry", key).Str("field", field).Msg("persist sensor field failed")
			return
		}
	}
	if err := r.deps.Store.Save(storeNamespace, indexKey, r.indexLocked()); err != nil {
		r.logger.Warn().Err(err).Msg("persist sensor index failed")
	}
}

// unpersistLocked removes every persisted field of an entry and refreshes
// the index. Must run after the in-memory record is gone.
func (r *Registry) unpersistLocked(cfg config.SensorConfig) {
	if r.deps.Store == nil {
		return
	}
	key := recordKey(cfg)
	for _, field := range persistedFields {
		if err := r.deps.Store.Delete(storeNamespace, fieldKey(key, field)); err != nil {
			r.logger.Warn().Err(err).Str("entry", key).Str("field", field).Msg("delete persisted sensor field failed")
		}
	}
	if err := r.deps.Store.Save(storeNamespace, indexKey, r.indexLocked()); err != nil {
		r.logger.Warn().Err(err).Msg("persist sensor index failed")
	}
}

func (r *Registry) indexLocked() string {
	keys := make([]string, 0, len(r.records))
	for _, records := range r.records {
		seen := map[string]bool{}
		for _, rec := range records {
			key := recordKey(rec.cfg)
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return strings.Join(keys, ",")
}

// Restore reconfigures every sensor found in the persisted index. Entries
// that no longer pass validation or arbitration are skipped with a warning;
// a corrupt entry must not prevent the rest of the node from coming up.
func (r *Registry) Restore() int {
	if r.deps.Store == nil {
		return 0
	}
	index, ok := r.deps.Store.Load(storeNamespace, indexKey)
	if !ok || index == "" {
		return 0
	}
	restored := 0
	for _, token := range strings.Split(index, ",") {
		key := strings.TrimSpace(token)
		if key == "" {
			continue
		}
		pinPart := key
		if i := strings.IndexByte(key, ':'); i >= 0 {
			pinPart = key[:i]
		}
		pin, err := strconv.Atoi(pinPart)
		if err != nil {
			r.logger.Warn().Str("entry", key).Msg("skipping malformed persisted entry")
			continue
		}
		cfg, err := r.loadSensor(pin, key)
		if err != nil {
			r.logger.Warn().Err(err).Str("entry", key).Msg("skipping unreadable persisted sensor")
			continue
		}
		if err := r.Configure(cfg); err != nil {
			r.logger.Warn().Err(err).Str("entry", key).Msg("skipping persisted sensor that failed arbitration")
			continue
		}
		restored++
	}
	return restored
}

func (r *Registry) loadSensor(pin int, key string) (config.SensorConfig, error) {
	load := func(field string) string {
		value, _ := r.deps.Store.Load(storeNamespace, fieldKey(key, field))
		return value
	}
	sensorType := load("type")
	if sensorType == "" {
		return config.SensorConfig{}, fmt.Errorf("persisted entry %s has no type", key)
	}
	cfg := config.SensorConfig{
		Pin:     pin,
		Type:    sensorType,
		Name:    load("name"),
		Subzone: load("subzone"),
		Mode:    config.OperatingMode(load("mode")),
		Address: load("address"),
	}
	if active := load("active"); active != "" {
		parsed, err := strconv.ParseBool(active)
		if err != nil {
			return config.SensorConfig{}, fmt.Errorf("persisted entry %s: parse active: %w", key, err)
		}
		cfg.Active = &parsed
	}
	if interval := load("interval"); interval != "" && interval != "0s" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return config.SensorConfig{}, fmt.Errorf("persisted entry %s: parse interval: %w", key, err)
		}
		cfg.Interval = config.Duration{Duration: parsed}
	}
	if busAddr := load("bus_addr"); busAddr != "" && busAddr != "0" {
		parsed, err := strconv.ParseUint(busAddr, 10, 16)
		if err != nil {
			return config.SensorConfig{}, fmt.Errorf("persisted entry %s: parse bus address: %w", key, err)
		}
		cfg.BusAddress = uint16(parsed)
	}
	return cfg, nil
}
