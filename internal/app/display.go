package app

import (
	"fmt"
	"image"
	"log"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/sensor_collector/internal/status"
)

const (
	displayWidth  = 128
	displayHeight = 64
	displayCols   = displayWidth / 7 // basicfont.Face7x13

	// ssd1306.NewI2C always talks to the panel at this address.
	ssd1306Addr = 0x3C
)

// panel is the drawing surface of an SSD1306.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// DisplaySink shows the latest status event on an OLED panel. Publish only
// stores the event; a single goroutine does the I2C writes.
type DisplaySink struct {
	dev panel
	bus i2c.BusCloser

	mu      sync.Mutex
	latest  status.Event
	closed  bool
	pending chan struct{}
	done    chan struct{}
}

// OpenDisplay initializes the SSD1306 at addr on the default I2C bus.
func OpenDisplay(addr uint16) (*DisplaySink, error) {
	if addr != ssd1306Addr {
		return nil, fmt.Errorf("display address 0x%02X not supported, the driver uses 0x%02X", addr, ssd1306Addr)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", addr)

	d := newDisplaySink(dev)
	d.bus = bus
	return d, nil
}

func newDisplaySink(dev panel) *DisplaySink {
	d := &DisplaySink{
		dev:     dev,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := d.draw(splashLines()); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}
	go d.loop()
	return d
}

// Publish is a no-op once the sink is closed.
func (d *DisplaySink) Publish(ev status.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.latest = ev

	select {
	case d.pending <- struct{}{}:
	default:
	}
}

func (d *DisplaySink) loop() {
	defer close(d.done)
	for range d.pending {
		d.mu.Lock()
		ev := d.latest
		d.mu.Unlock()

		if err := d.draw(statusLines(ev)); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}

// Close stops the render loop and releases the bus.
func (d *DisplaySink) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.pending)
	d.mu.Unlock()

	<-d.done
	if d.bus != nil {
		return d.bus.Close()
	}
	return nil
}

func (d *DisplaySink) draw(lines []string) error {
	img := renderLines(lines)
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

func splashLines() []string {
	return []string{"Sensor", "Collector", "Idle"}
}

func statusLines(ev status.Event) []string {
	lines := []string{
		strings.ToUpper(ev.State),
		fmt.Sprintf("Records: %d", ev.Records),
	}
	if ev.SessionID != "" {
		lines = append(lines, "S:"+ev.SessionID)
	} else {
		lines = append(lines, string(ev.Kind))
	}
	// Status texts can be multi-line ("Upload failed: Status 401\n...").
	first, _, _ := strings.Cut(ev.Text, "\n")
	return append(lines, first)
}

// renderLines draws up to four lines of 7x13 text, truncated to the panel
// width.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	for i, line := range lines {
		if i == 4 {
			break
		}
		if len(line) > displayCols {
			line = line[:displayCols]
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}
