// Command mkchunkfs formats a new chunkfs image file.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/KarpelesLab/chunkfs"
)

const usage = `mkchunkfs - format a new chunkfs image

Usage:
  mkchunkfs -chunks <n> -chunk-size <bytes> -inode-frac <0..1> <image-path>

Example:
  mkchunkfs -chunks 65536 -chunk-size 4096 -inode-frac 0.1 image.chunkfs
`

func main() {
	chunks := uint64(65536)
	chunkSize := uint64(4096)
	inodeFrac := 0.1
	var path string

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-chunks":
			i++
			n, err := strconv.ParseUint(args[i], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -chunks: %s\n", err)
				os.Exit(1)
			}
			chunks = n
		case "-chunk-size":
			i++
			n, err := strconv.ParseUint(args[i], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -chunk-size: %s\n", err)
				os.Exit(1)
			}
			chunkSize = n
		case "-inode-frac":
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -inode-frac: %s\n", err)
				os.Exit(1)
			}
			inodeFrac = f
		case "-h", "-help", "--help":
			fmt.Println(usage)
			return
		default:
			path = args[i]
		}
	}

	if path == "" {
		fmt.Println(usage)
		os.Exit(1)
	}

	back, err := chunkfs.CreateFileDevice(path, chunks, chunkSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, inodeFrac, 0755)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if err := fsys.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("formatted %s: %d chunks of %d bytes, inode fraction %.3f\n", path, chunks, chunkSize, inodeFrac)
}
