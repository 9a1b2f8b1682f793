package cantp

import (
	"errors"
	"log"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoPortSelected is returned by ResolvePort when no port matched, in
// particular after listing the ports with "*".
var ErrNoPortSelected = errors.New("no serial port selected")

// ResolvePort checks the given com port name against the ports present on the
// system. Passing "*" prints the discovered ports instead of selecting one.
func ResolvePort(portName string) (string, error) {
	if runtime.GOOS == "windows" {
		portName = strings.ToUpper(portName)
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	if portName == "*" {
		log.Println("discovered com ports:")
	}

	for _, port := range ports {
		if port.Name == portName || portName == "*" {
			log.Printf("port: %s\n", port.Name)
			if port.IsUSB {
				log.Printf("   USB ID      %s:%s\n", port.VID, port.PID)
				log.Printf("   USB serial  %s\n", port.SerialNumber)
			}
			if portName == "*" {
				continue
			}
			return portName, nil
		}
	}
	return "", ErrNoPortSelected
}
