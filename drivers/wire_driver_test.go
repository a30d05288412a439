package drivers

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func writeWireSensor(t *testing.T, dir, folder, value string) {
	t.Helper()

	err := os.MkdirAll(filepath.Join(dir, folder), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	err = os.WriteFile(filepath.Join(dir, folder, "temperature"), []byte(value), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestWireSensorFolder(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"0xabcde", "28-0000000abcde"},
		{"0x00000ABCDE", "28-0000000abcde"},
		{"703710", "28-0000000abcde"},
	}

	for _, tt := range tests {
		got, err := wireSensorFolder(tt.id)
		if err != nil {
			t.Fatalf("wireSensorFolder(%s) returned err: %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("wireSensorFolder(%s) got %s want %s", tt.id, got, tt.want)
		}
	}

	_, err := wireSensorFolder("0xnothex")
	if err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestWireReadAnalog(t *testing.T) {
	dir := t.TempDir()
	writeWireSensor(t, dir, "28-0000000abcde", "21500\n")
	writeWireSensor(t, dir, "28-000000000001", "99000\n")

	w1, err := NewWireIO(dir, map[int]string{0: "0xabcde", 1: "0x1"})
	if err != nil {
		t.Fatalf("NewWireIO returned err: %v", err)
	}
	if len(w1.Ports()) != 2 {
		t.Errorf("got %d ports want 2", len(w1.Ports()))
	}

	value, err := w1.ReadAnalog(0)
	if err != nil {
		t.Fatalf("ReadAnalog returned err: %v", err)
	}
	if value != 21.5 {
		t.Errorf("got %v want 21.5", value)
	}

	w1.CheckBounds = true
	w1.BoundMinimumMillis = -40000
	w1.BoundMaximumMillis = 85000
	_, err = w1.ReadAnalog(1)
	assertErrorIs(t, err, ErrValueOutOfRange)

	_, err = w1.ReadAnalog(7)
	assertErrorIs(t, err, ErrUnknownChannel)

	assertErrorIs(t, w1.WriteDigital(0, true), ErrNotSupported)
}

func TestWireMissingSensor(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWireIO(dir, map[int]string{0: "0xabcde"})
	if err == nil {
		t.Error("expected error for missing sensor file")
	}

	_, err = NewWireIO(filepath.Join(dir, "missing"), nil)
	if err == nil {
		t.Error("expected error for missing w1 dir")
	}
}

func TestWireProfile(t *testing.T) {
	dir := t.TempDir()
	writeWireSensor(t, dir, "28-0000000abcde", "-1250")

	profiles := Profiles{
		"boiler": {Driver: "wire", WirePath: dir, Analog: []PortSpec{{Channel: 3, Sensor: "0xabcde"}}},
		"no-id":  {Driver: "wire", WirePath: dir, Analog: []PortSpec{{Channel: 3}}},
		"mixed":  {Driver: "wire", WirePath: dir, Digital: []PortSpec{{Channel: 0}}},
	}

	hw, err := profiles.Open("boiler")
	if err != nil {
		t.Fatalf("Open returned err: %v", err)
	}
	value, err := hw.ReadAnalog(3)
	if err != nil {
		t.Fatalf("ReadAnalog returned err: %v", err)
	}
	if value != -1.25 {
		t.Errorf("got %v want -1.25", value)
	}

	for _, name := range []string{"no-id", "mixed"} {
		_, err = profiles.Open(name)
		if err == nil {
			t.Errorf("profile %s: got nil error", name)
		}
	}
}

func TestWirePortsOrderedByChannel(t *testing.T) {
	dir := t.TempDir()
	sensors := map[int]string{}
	for _, ch := range []int{7, 2, 11, 0, 5, 3} {
		id := strconv.Itoa(ch + 1)
		writeWireSensor(t, dir, fmt.Sprintf("28-%012x", ch+1), "20000\n")
		sensors[ch] = id
	}

	for i := 0; i < 10; i++ {
		w1, err := NewWireIO(dir, sensors)
		if err != nil {
			t.Fatalf("NewWireIO returned err: %v", err)
		}

		var got []int
		for _, p := range w1.Ports() {
			got = append(got, p.Channel)
		}
		want := []int{0, 2, 3, 5, 7, 11}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got channels %v want %v", got, want)
		}
	}
}
