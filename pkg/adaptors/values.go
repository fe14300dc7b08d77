// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package adaptors

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// maxVariableNameLength is the number of characters the cloud keeps
	// from a variable name; `temperature_sensor` is reachable as `temperature_`.
	maxVariableNameLength = 12

	pwmScale   = 255
	servoScale = 180
)

// servoPins maps pins to the servo channels known by the core firmware.
var servoPins = map[string]string{
	"A0": "S0",
	"A1": "S1",
	"A4": "S4",
	"A5": "S5",
	"A6": "S6",
	"A7": "S7",
	"D0": "S8",
	"D1": "S9",
}

// PinVal returns "HIGH" for 1 and "LOW" for everything else.
func PinVal(value int) string {
	if value == 1 {
		return "HIGH"
	}
	return "LOW"
}

// ToScale maps a normalized [0..1] value onto [0..max].
// The result is rounded and clamped.
func ToScale(value float64, max int) int {
	v := math.Round(value * float64(max))
	switch {
	case v < 0:
		return 0
	case v > float64(max):
		return max
	default:
		return int(v)
	}
}

// ServoPin returns the servo channel for the given pin.
func ServoPin(pin string) (string, bool) {
	s, ok := servoPins[strings.ToUpper(pin)]
	return s, ok
}

// ParsePin converts a pin name into a board pin number.
// D0..D7 map to 0..7, A0..A7 map to 10..17, plain numbers are used as is.
func ParsePin(pin string) (int, error) {
	name := strings.ToUpper(strings.TrimSpace(pin))
	if len(name) == 2 && name[1] >= '0' && name[1] <= '7' {
		idx := int(name[1] - '0')
		switch name[0] {
		case 'D':
			return idx, nil
		case 'A':
			return idx + 10, nil
		}
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(InvalidPinError, "cannot parse pin '%s'", pin)
	}
	return n, nil
}

// truncateVariableName cuts a variable name to the length the cloud uses.
func truncateVariableName(name string) string {
	runes := []rune(name)
	if len(runes) > maxVariableNameLength {
		return string(runes[:maxVariableNameLength])
	}
	return name
}

// formatValue formats an analog value the way the firmware expects it.
func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
