package wire

import "encoding/binary"

// Order selects one of the two binary dialects named in spec §6. Peers
// must agree out of band; LittleEndian is the default for new deployments.
type Order binary.ByteOrder

var (
	LittleEndian Order = binary.LittleEndian
	BigEndian    Order = binary.BigEndian
)
