package state

var chainHeightKey = []byte("chain/height")

// Height returns the last committed block height.
func (m *Manager) Height() (uint64, error) {
	var height uint64
	_, err := m.KVGet(chainHeightKey, &height)
	return height, err
}

// SetHeight stores the block height.
func (m *Manager) SetHeight(height uint64) error {
	return m.KVPut(chainHeightKey, height)
}
