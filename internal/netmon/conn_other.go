//go:build !linux

package netmon

func openConn() (conn, error) {
	return nil, ErrUnsupportedPlatform
}
