package groups

import (
	"fmt"
	"strings"
)

// Key kinds, used as the tag of the encoded group key
const (
	KindContent      = "content"
	KindNameOnly     = "name"
	KindSimilarImage = "similar"
	KindFolderDup    = "folder"
)

// Key identifies one equivalence class of duplicates. Exactly one
// variant's payload fields are meaningful, selected by Kind.
type Key struct {
	Kind string

	// Content: full-content equality
	Size     int64
	FullHash string

	// Content + name mode appends the lowercased filename
	Name string

	// SimilarImage: perceptual cluster
	ClusterID int
	RepSize   int64

	// FolderDup: directory manifest equality
	ManifestHash string
}

// ContentKey builds a content-equality key
func ContentKey(size int64, fullHash string) Key {
	return Key{Kind: KindContent, Size: size, FullHash: fullHash}
}

// ContentNameKey builds a content-plus-name key
func ContentNameKey(size int64, fullHash, name string) Key {
	return Key{Kind: KindContent, Size: size, FullHash: fullHash, Name: strings.ToLower(name)}
}

// NameKey builds a name-only key
func NameKey(name string) Key {
	return Key{Kind: KindNameOnly, Name: strings.ToLower(name)}
}

// SimilarKey builds a perceptual-cluster key
func SimilarKey(clusterID int, repSize int64) Key {
	return Key{Kind: KindSimilarImage, ClusterID: clusterID, RepSize: repSize}
}

// FolderKey builds a folder-manifest key
func FolderKey(manifestHash string) Key {
	return Key{Kind: KindFolderDup, ManifestHash: manifestHash}
}

// Encode renders the key in the exported "<tag>:<payload>" form
func (k Key) Encode() string {
	switch k.Kind {
	case KindContent:
		if k.Name != "" {
			return fmt.Sprintf("%s:%s:%s", KindContent, k.FullHash, k.Name)
		}
		return fmt.Sprintf("%s:%s", KindContent, k.FullHash)
	case KindNameOnly:
		return fmt.Sprintf("%s:%s", KindNameOnly, k.Name)
	case KindSimilarImage:
		return fmt.Sprintf("%s:%d", KindSimilarImage, k.ClusterID)
	case KindFolderDup:
		return fmt.Sprintf("%s:%s", KindFolderDup, k.ManifestHash)
	default:
		return fmt.Sprintf("unknown:%s", k.Kind)
	}
}

// Group is a set of two or more paths sharing one equivalence class.
// Members are unique by (device, inode).
type Group struct {
	Key     Key
	Members []string
}
