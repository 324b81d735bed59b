// Package client implements the association-requesting side of DICOM
// networking: association negotiation and the C-ECHO, C-FIND, C-STORE and
// C-CANCEL operations.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/types"
)

// Association represents a client-side DICOM association
type Association struct {
	conn             net.Conn
	callingAETitle   string
	calledAETitle    string
	maxPDULength     uint32 // what we accept
	peerMaxPDULength uint32 // what the peer accepts, bounds our P-DATA-TF
	readTimeout      time.Duration
	writeTimeout     time.Duration
	presentationCtxs map[byte]*PresentationContext
	logger           *slog.Logger
	messageID        uint16
	closed           bool
}

// PresentationContext holds negotiated presentation context info
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax string
	Accepted       bool
}

// PresentationContextRequest is one proposed presentation context. The
// transfer syntaxes are listed in order of preference.
type PresentationContextRequest struct {
	AbstractSyntax   string
	TransferSyntaxes []string
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration // Timeout for establishing connection (default: 30s)
	ReadTimeout    time.Duration // Per-PDU read timeout (default: 60s)
	WriteTimeout   time.Duration // Per-PDU write timeout (default: 60s)
	Logger         *slog.Logger  // Logger for the association (default: slog.Default())
	Contexts       []PresentationContextRequest
}

// DefaultContexts proposes verification and modality worklist FIND in
// Explicit and Implicit VR Little Endian.
func DefaultContexts() []PresentationContextRequest {
	uncompressed := []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}
	return []PresentationContextRequest{
		{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: uncompressed},
		{AbstractSyntax: types.ModalityWorklistInformationModelFind, TransferSyntaxes: uncompressed},
	}
}

// Connect establishes a DICOM association with a remote SCP. A refused
// association is reported as *errors.AssociationError.
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = types.DefaultMaxPDULength
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if len(config.Contexts) == 0 {
		config.Contexts = DefaultContexts()
	}
	if len(config.Contexts) > 128 {
		return nil, fmt.Errorf("too many presentation contexts: %d", len(config.Contexts))
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, dicomerrors.NewNetworkError("connect", err)
	}

	assoc := &Association{
		conn:             conn,
		callingAETitle:   config.CallingAETitle,
		calledAETitle:    config.CalledAETitle,
		maxPDULength:     config.MaxPDULength,
		readTimeout:      config.ReadTimeout,
		writeTimeout:     config.WriteTimeout,
		presentationCtxs: make(map[byte]*PresentationContext),
		logger:           logger,
	}

	// Unblock the handshake if ctx ends first
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	assoc.armDeadlines()
	if err := assoc.sendAssociateRQ(config.Contexts); err != nil {
		conn.Close()
		return nil, dicomerrors.NewNetworkError("send A-ASSOCIATE-RQ", err)
	}

	if err := assoc.receiveAssociateAC(); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return nil, err
	}

	logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"peer_max_pdu", assoc.peerMaxPDULength)

	return assoc, nil
}

// armDeadlines refreshes the connection deadlines before an exchange.
func (a *Association) armDeadlines() {
	if a.readTimeout > 0 {
		_ = a.conn.SetReadDeadline(time.Now().Add(a.readTimeout))
	}
	if a.writeTimeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	}
}

func (a *Association) sendLimit() uint32 {
	if a.peerMaxPDULength > 0 {
		return a.peerMaxPDULength
	}
	return types.DefaultMaxPDULength
}

func (a *Association) nextMessageID() uint16 {
	a.messageID++
	if a.messageID == 0 {
		a.messageID = 1
	}
	return a.messageID
}

// Close releases the association and always closes the socket.
func (a *Association) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	a.armDeadlines()
	if err := a.sendReleaseRQ(); err != nil {
		a.logger.Warn("Failed to send release request", "error", err)
	} else if err := a.receiveReleaseRP(); err != nil {
		a.logger.Debug("No release response", "error", err)
	}

	return a.conn.Close()
}

// Abort sends A-ABORT and closes the socket without waiting for the peer.
func (a *Association) Abort() error {
	if a.closed {
		return nil
	}
	a.closed = true

	a.armDeadlines()
	// Source 0x00 service-user, reason 0x00
	if _, err := a.conn.Write([]byte{types.TypeAbort, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}); err != nil {
		a.logger.Debug("Failed to send A-ABORT", "error", err)
	}
	return a.conn.Close()
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// sendAssociateRQ sends an A-ASSOCIATE-RQ PDU proposing contexts with the
// odd IDs 1, 3, 5, ...
func (a *Association) sendAssociateRQ(contexts []PresentationContextRequest) error {
	buf := make([]byte, 68, 1024)
	binary.BigEndian.PutUint16(buf[0:2], 0x0001) // Protocol version
	copy(buf[4:20], fmt.Sprintf("%-16.16s", a.calledAETitle))
	copy(buf[20:36], fmt.Sprintf("%-16.16s", a.callingAETitle))

	buf = appendItem(buf, types.ItemApplicationContext, []byte(types.ApplicationContextUID))

	for i, pc := range contexts {
		contextID := byte(2*i + 1)

		item := []byte{contextID, 0x00, 0x00, 0x00}
		item = appendItem(item, types.ItemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			item = appendItem(item, types.ItemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, types.ItemPresentationContextRQ, item)

		a.presentationCtxs[contextID] = &PresentationContext{
			ID:             contextID,
			AbstractSyntax: pc.AbstractSyntax,
		}
	}

	userInfo := appendItem(nil, types.ItemMaximumLength, binary.BigEndian.AppendUint32(nil, a.maxPDULength))
	userInfo = appendItem(userInfo, types.ItemImplementationClassUID, []byte(types.ImplementationClassUID))
	userInfo = appendItem(userInfo, types.ItemImplementationVersionName, []byte(types.ImplementationVersionName))
	buf = appendItem(buf, types.ItemUserInformation, userInfo)

	out := []byte{types.TypeAssociateRQ, 0x00}
	out = binary.BigEndian.AppendUint32(out, uint32(len(buf)))
	_, err := a.conn.Write(append(out, buf...))
	return err
}

func (a *Association) readPDU() (byte, []byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return 0, nil, dicomerrors.NewNetworkError("read PDU header", err)
	}

	data := make([]byte, binary.BigEndian.Uint32(header[2:6]))
	if _, err := io.ReadFull(a.conn, data); err != nil {
		return 0, nil, dicomerrors.NewNetworkError("read PDU data", err)
	}
	return header[0], data, nil
}

// receiveAssociateAC receives and parses A-ASSOCIATE-AC
func (a *Association) receiveAssociateAC() error {
	pduType, data, err := a.readPDU()
	if err != nil {
		return err
	}

	switch pduType {
	case types.TypeAssociateAC:
	case types.TypeAssociateRJ:
		if len(data) < 4 {
			return dicomerrors.NewPDUError(pduType, "A-ASSOCIATE-RJ too short")
		}
		rj := dicomerrors.NewAssociationError(
			dicomerrors.AssociationRejectSource(data[2]),
			dicomerrors.AssociationRejectReason(data[3]),
			a.calledAETitle)
		rj.Result = data[1]
		return rj
	case types.TypeAbort:
		if len(data) >= 4 {
			return dicomerrors.NewAbortError(data[2], data[3])
		}
		return dicomerrors.NewAbortError(0, 0)
	default:
		return dicomerrors.NewPDUError(pduType, "expected A-ASSOCIATE-AC")
	}

	if len(data) < 68 {
		return dicomerrors.NewPDUError(pduType, "A-ASSOCIATE-AC too short")
	}

	offset := 68 // Skip fixed fields
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			return dicomerrors.NewPDUError(pduType, "A-ASSOCIATE-AC item exceeds PDU length")
		}

		switch itemType {
		case types.ItemPresentationContextAC:
			a.parseContextResult(data[offset+4 : itemEnd])
		case types.ItemUserInformation:
			a.parseUserInformation(data[offset+4 : itemEnd])
		}

		offset = itemEnd
	}

	return nil
}

func (a *Association) parseContextResult(item []byte) {
	if len(item) < 4 {
		return
	}
	contextID := item[0]
	result := item[2]

	transferSyntax := ""
	subOffset := 4
	for subOffset+4 <= len(item) {
		subItemType := item[subOffset]
		subItemLength := binary.BigEndian.Uint16(item[subOffset+2 : subOffset+4])
		subItemEnd := subOffset + 4 + int(subItemLength)
		if subItemEnd > len(item) {
			break
		}
		if subItemType == types.ItemTransferSyntax && subItemLength > 0 {
			transferSyntax = strings.TrimRight(string(item[subOffset+4:subItemEnd]), "\x00 ")
		}
		subOffset = subItemEnd
	}

	pc, ok := a.presentationCtxs[contextID]
	if !ok {
		return
	}
	pc.Accepted = result == types.ResultAcceptance && transferSyntax != ""
	if pc.Accepted {
		pc.TransferSyntax = transferSyntax
	}
	a.logger.Debug("Presentation context negotiation",
		"context_id", contextID,
		"abstract_syntax", pc.AbstractSyntax,
		"result", result,
		"accepted", pc.Accepted,
		"transfer_syntax", pc.TransferSyntax)
}

func (a *Association) parseUserInformation(item []byte) {
	offset := 0
	for offset+4 <= len(item) {
		subItemType := item[offset]
		subItemLength := binary.BigEndian.Uint16(item[offset+2 : offset+4])
		end := offset + 4 + int(subItemLength)
		if end > len(item) {
			return
		}
		if subItemType == types.ItemMaximumLength && subItemLength == 4 {
			a.peerMaxPDULength = binary.BigEndian.Uint32(item[offset+4 : end])
		}
		offset = end
	}
}

// sendReleaseRQ sends an A-RELEASE-RQ PDU
func (a *Association) sendReleaseRQ() error {
	_, err := a.conn.Write([]byte{types.TypeReleaseRQ, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00})
	return err
}

// receiveReleaseRP waits for A-RELEASE-RP, skipping any straggling P-DATA-TF
func (a *Association) receiveReleaseRP() error {
	for {
		pduType, _, err := a.readPDU()
		if err != nil {
			return err
		}
		switch pduType {
		case types.TypeReleaseRP:
			return nil
		case types.TypePDataTF:
			continue
		default:
			return dicomerrors.NewPDUError(pduType, "expected A-RELEASE-RP")
		}
	}
}

// PresentationContext returns the accepted context for abstractSyntax.
func (a *Association) PresentationContext(abstractSyntax string) (*PresentationContext, bool) {
	ids := make([]int, 0, len(a.presentationCtxs))
	for id := range a.presentationCtxs {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		pc := a.presentationCtxs[byte(id)]
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted {
			return pc, true
		}
	}
	return nil, false
}

// GetPresentationContextID finds a presentation context for the given abstract syntax
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	if pc, ok := a.PresentationContext(abstractSyntax); ok {
		return pc.ID, nil
	}
	return 0, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, abstractSyntax)
}
