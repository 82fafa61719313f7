//go:build !unix

package persist

import "github.com/spf13/afero"

func lockFile(afero.Fs, string) (func(), error) {
	return func() {}, nil
}
