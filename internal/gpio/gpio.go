// Package gpio provides discrete GPIO outputs and inputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single discrete line (step, direction or driver enable).
type Output interface {
	// Set drives the line to its logical active (true) or inactive state.
	// Polarity inversion is handled by the implementation.
	Set(active bool) error

	// Close releases the line.
	Close() error
}

// Input reads a single discrete line (limit switch).
type Input interface {
	// Active returns the logical state of the line.
	Active() (bool, error)

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Pin definitions (BCM numbering)
const (
	DefaultPinStep   = 18 // Stepper driver STEP
	DefaultPinDir    = 5  // Stepper driver DIR
	DefaultPinEnable = 19 // Stepper driver EN (active low on TMC2208/A4988)
	DefaultPinHome   = 20 // Homing limit switch (pulled up, pressed = low)
)

// Bias is the pull applied to a line once it is released as an input.
type Bias int

const (
	BiasPullDown Bias = iota
	BiasPullUp
)

func (b Bias) String() string {
	if b == BiasPullUp {
		return "pull-up"
	}
	return "pull-down"
}

// ReleaseBias returns the pull that holds a released output at its
// inactive level. An active-low line such as the driver enable idles high.
func ReleaseBias(activeLow bool) Bias {
	if activeLow {
		return BiasPullUp
	}
	return BiasPullDown
}
