// Command unshinectl works on UnShiney datasets and model presets offline.
package main

import (
	"os"

	"k8s.io/klog/v2"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
