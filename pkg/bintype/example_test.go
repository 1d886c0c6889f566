package bintype_test

import (
	"context"
	"fmt"
	"log"

	"github.com/twinfer/bintype/pkg/bintype"
)

// Example decodes a length-prefixed packet and encodes it again after
// changing a field.
func Example() {
	mod := bintype.MustCompile(`
bintype Packet:
    len: uint8
    body: uint8[len]
    crc: uint16 &byteorder big
`)

	inst, err := mod.ParseBytes(context.Background(), "Packet", []byte{0x02, 0x0A, 0x0B, 0x12, 0x34})
	if err != nil {
		log.Fatal(err)
	}

	crc, _ := inst.Scalar("crc")
	body, _ := inst.Array("body")
	fmt.Println(crc.Value(), body.Len(), inst.ByteSize())

	if err := inst.Set("crc", 0xBEEF); err != nil {
		log.Fatal(err)
	}
	out, err := inst.Bytes(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("% x\n", out)
	// Output:
	// 4660 2 5
	// 02 0a 0b be ef
}

// ExampleInstance_Check validates a decoded instance with a check
// expression.
func ExampleInstance_Check() {
	mod := bintype.MustCompile(`
bintype Header:
    version: uint8
    flags: uint8
`)
	inst, err := mod.ParseBytes(context.Background(), "Header", []byte{0x02, 0x05})
	if err != nil {
		log.Fatal(err)
	}

	ok, err := inst.Check("version == 2 and (flags & 4) != 0")
	fmt.Println(ok, err)
	// Output:
	// true <nil>
}
