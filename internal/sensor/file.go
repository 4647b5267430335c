package sensor

import (
	"os"
	"strconv"
	"strings"
)

// FileReader reads the temperature from a kernel-exported thermal file
// (e.g. /sys/class/thermal/thermal_zone0/temp or a hwmon tempN_input).
// The file contains millidegrees Celsius as ASCII digits; the I2C register
// protocol behind it belongs to the kernel driver, not to this process.
type FileReader struct {
	path string
}

// NewFileReader creates a FileReader for the given sysfs path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// ReadFahrenheit reads and converts the current temperature.
func (r *FileReader) ReadFahrenheit() (float64, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return 0, &SensorError{Op: "read " + r.path, Err: err}
	}

	milliC, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, &SensorError{Op: "parse " + r.path, Err: err}
	}

	celsius := milliC / 1000.0
	return celsius*9.0/5.0 + 32.0, nil
}

// Close is a no-op; the file is opened per read.
func (r *FileReader) Close() error {
	return nil
}
