package main

import (
	"fmt"

	"gitdb/internal/codec"
)

func parseObjectType(name string) (codec.ObjectType, error) {
	switch name {
	case "commit":
		return codec.ObjectCommit, nil
	case "tree":
		return codec.ObjectTree, nil
	case "blob":
		return codec.ObjectBlob, nil
	case "tag":
		return codec.ObjectTag, nil
	default:
		return 0, fmt.Errorf("unknown object type %q", name)
	}
}
