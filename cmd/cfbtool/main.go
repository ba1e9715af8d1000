package main

import (
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/arnegrimsson/gocfb/clsid"
	"github.com/arnegrimsson/gocfb/compound"
	"github.com/arnegrimsson/gocfb/direntry"
)

func main() {
	app := cli.App{
		Usage: "Inspect and manipulate Compound File Binary (OLE) documents",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List every storage and stream in a compound file",
				Action:    listEntries,
				ArgsUsage: "FILE",
			},
			{
				Name:      "extract",
				Usage:     "Write a single stream's bytes to stdout or a file",
				Action:    extractStream,
				ArgsUsage: "FILE STREAM-PATH [OUTPUT]",
			},
			{
				Name:      "create",
				Usage:     "Create a new, empty compound file",
				Action:    createImage,
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "version", Value: 3, Usage: "major version, 3 or 4"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("cfbtool: %s", err.Error())
	}
}

func openForReading(filename string) (*compound.Engine, func(), error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	engine, err := compound.Load(f, compound.ReadOnly, compound.Default)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return engine, func() { engine.Close() }, nil
}

func listEntries(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: cfbtool ls FILE", 1)
	}
	engine, cleanup, err := openForReading(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer cleanup()

	return walkTree(engine, compound.RootSID, "/")
}

func walkTree(engine *compound.Engine, sid direntry.SID, prefix string) error {
	entry, err := engine.Entry(sid)
	if err != nil {
		return err
	}

	var names []direntry.SID
	if err := engine.WalkChildren(sid, func(childSID direntry.SID) error {
		names = append(names, childSID)
		return nil
	}); err != nil {
		return err
	}

	for _, childSID := range names {
		child, err := engine.Entry(childSID)
		if err != nil {
			return err
		}
		fullPath := path.Join(prefix, child.Name)
		switch child.Type {
		case direntry.TypeStorage:
			label := ""
			if name := clsid.Name(child.CLSID); name != "" {
				label = fmt.Sprintf(" (%s)", name)
			}
			fmt.Printf("%s/%s\n", fullPath, label)
			if err := walkTree(engine, childSID, fullPath); err != nil {
				return err
			}
		case direntry.TypeStream:
			fmt.Printf("%s\t%d bytes\n", fullPath, child.StreamSize)
		}
	}
	return nil
}

func extractStream(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: cfbtool extract FILE STREAM-PATH [OUTPUT]", 1)
	}
	engine, cleanup, err := openForReading(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer cleanup()

	sid, err := resolvePath(engine, c.Args().Get(1))
	if err != nil {
		return err
	}
	data, err := engine.RawDataBySID(sid)
	if err != nil {
		return err
	}

	out := os.Stdout
	if c.Args().Len() >= 3 {
		f, err := os.Create(c.Args().Get(2))
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = out.Write(data)
	return err
}

func resolvePath(engine *compound.Engine, streamPath string) (direntry.SID, error) {
	current := compound.RootSID
	parts := strings.Split(strings.Trim(streamPath, "/"), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		next, err := engine.FindChild(current, part)
		if err != nil {
			return direntry.NoStream, err
		}
		current = next
	}
	return current, nil
}

func createImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: cfbtool create FILE", 1)
	}
	engine, err := compound.Create(c.Int("version"), compound.Default)
	if err != nil {
		return err
	}
	defer engine.Close()

	f, err := os.Create(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	return engine.Save(f)
}
