package sensors

import "time"

// Reading is one measurement result, consumed immediately by the publish
// step and never retained.
type Reading struct {
	DeviceID      string  `json:"device_id"`
	Zone          string  `json:"zone,omitempty"`
	Subzone       string  `json:"subzone,omitempty"`
	Pin           int     `json:"pin"`
	SensorType    string  `json:"sensor_type"`
	Raw           float64 `json:"raw_value"`
	Processed     float64 `json:"processed_value"`
	Unit          string  `json:"unit,omitempty"`
	Quality       string  `json:"quality,omitempty"`
	Timestamp     int64   `json:"timestamp"`
	DeviceAddress string  `json:"device_address,omitempty"`
	Valid         bool    `json:"valid"`
	Err           string  `json:"error,omitempty"`
}

func invalidReading(deviceID, zone, subzone string, pin int, sensorType string, ts time.Time, msg string) Reading {
	return Reading{
		DeviceID:   deviceID,
		Zone:       zone,
		Subzone:    subzone,
		Pin:        pin,
		SensorType: sensorType,
		Timestamp:  ts.Unix(),
		Valid:      false,
		Err:        msg,
	}
}
