//go:build fuse

// Command chunkfsmount mounts a chunkfs image at a directory using FUSE.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/KarpelesLab/chunkfs"
	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: chunkfsmount <image-path> <mountpoint>\n")
		os.Exit(1)
	}
	imagePath, mountPoint := os.Args[1], os.Args[2]

	fsys, err := openImage(imagePath)
	if err != nil {
		log.Fatalf("chunkfsmount: %s", err)
	}
	defer fsys.Close()

	root := chunkfs.NewFuseNode(fsys)
	server, err := gofs.Mount(mountPoint, root, &gofs.Options{
		MountOptions: fuse.MountOptions{Debug: false},
	})
	if err != nil {
		log.Fatalf("chunkfsmount: mount failed: %s", err)
	}

	server.Wait()
}

func openImage(path string) (*chunkfs.Filesystem, error) {
	chunkCount, chunkSize, err := chunkfs.ProbeFileDeviceLayout(path)
	if err != nil {
		return nil, err
	}
	back, err := chunkfs.OpenFileDevice(path, chunkCount, chunkSize)
	if err != nil {
		return nil, err
	}
	dev := chunkfs.NewDevice(back)
	return chunkfs.OpenFilesystem(dev)
}
