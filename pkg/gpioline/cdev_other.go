//go:build !linux

package gpioline

func OpenCdev(name string) (Output, error) {
	return nil, ErrUnsupported
}

func IsRaspberryPi5() bool {
	return false
}
