package bidding

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Pseudonym is the stable, auction-scoped alias shown to other bidders.
// The same bidder gets different aliases in different auctions.
func Pseudonym(auctionID, bidderID uint64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], auctionID)
	binary.BigEndian.PutUint64(buf[8:], bidderID)
	sum := blake2b.Sum256(buf[:])
	return "Bidder " + strings.ToUpper(hex.EncodeToString(sum[:3]))
}
