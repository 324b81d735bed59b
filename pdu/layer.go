package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/caio-sobreiro/modalitysim/dimse"
	dicomerrors "github.com/caio-sobreiro/modalitysim/errors"
	"github.com/caio-sobreiro/modalitysim/interfaces"
	"github.com/caio-sobreiro/modalitysim/types"
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// Layer handles the DICOM Upper Layer Protocol for one accepted connection
type Layer struct {
	conn           net.Conn
	associationCtx *AssociationContext
	dimseHandler   interfaces.DIMSEHandler
	serverAETitle  string
	strictCalledAE bool
	maxPDULength   uint32
	readTimeout    time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

// WithLogger sets the layer's logger.
func WithLogger(logger *slog.Logger) LayerOption {
	return func(l *Layer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStrictCalledAETitle rejects associations whose called AE title is not ours.
func WithStrictCalledAETitle() LayerOption {
	return func(l *Layer) { l.strictCalledAE = true }
}

// WithTimeouts sets per-PDU read and write deadlines.
func WithTimeouts(read, write time.Duration) LayerOption {
	return func(l *Layer) {
		l.readTimeout = read
		l.writeTimeout = write
	}
}

// WithMaxPDULength sets the receive limit announced in A-ASSOCIATE-AC.
func WithMaxPDULength(n uint32) LayerOption {
	return func(l *Layer) {
		if n > 0 {
			l.maxPDULength = n
		}
	}
}

// AssociationContext holds association state
type AssociationContext struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32 // peer's receive limit, bounds what we send
	PresentationCtxs map[byte]*PresentationContext
}

// PresentationContext represents a negotiated presentation context
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

var supportedAbstractSyntaxes = map[string]bool{
	types.VerificationSOPClass:                 true, // C-ECHO
	types.ModalityWorklistInformationModelFind: true, // MWL C-FIND
}

// Identifiers for verification and worklist are decoded here, so only uncompressed syntaxes qualify
var supportedTransferSyntaxes = map[string]bool{
	types.ImplicitVRLittleEndian: true,
	types.ExplicitVRLittleEndian: true,
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func supportsAbstractSyntax(uid string) bool {
	return supportedAbstractSyntaxes[uid] || types.IsStorageSOPClass(uid)
}

// selectTransferSyntax picks the first acceptable proposed syntax. Storage
// payloads are kept as received, so any syntax is acceptable there.
func selectTransferSyntax(abstractSyntax string, proposed []string) string {
	storage := types.IsStorageSOPClass(abstractSyntax)
	for _, ts := range proposed {
		if ts == "" {
			continue
		}
		if storage || supportedTransferSyntaxes[ts] {
			return ts
		}
	}
	return ""
}

func parsePresentationContext(data []byte, logger *slog.Logger) (*PresentationContext, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("presentation context too short: %d", len(data))
	}

	ctxID := data[0]
	subOffset := 4 // Skip reserved bytes
	var abstractSyntax string
	var transferSyntaxes []string

	for subOffset+4 <= len(data) {
		subItemType := data[subOffset]
		subItemLength := binary.BigEndian.Uint16(data[subOffset+2 : subOffset+4])
		valueStart := subOffset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("presentation context %d sub-item exceeds length", ctxID)
		}

		value := data[valueStart:valueEnd]
		switch subItemType {
		case types.ItemAbstractSyntax:
			abstractSyntax = normalizeUID(value)
		case types.ItemTransferSyntax:
			transferSyntaxes = append(transferSyntaxes, normalizeUID(value))
		}

		subOffset = valueEnd
	}

	if abstractSyntax == "" {
		return nil, fmt.Errorf("presentation context %d missing abstract syntax", ctxID)
	}

	result := types.ResultAbstractSyntaxNotSupported
	selectedTransfer := ""

	if supportsAbstractSyntax(abstractSyntax) {
		selectedTransfer = selectTransferSyntax(abstractSyntax, transferSyntaxes)
		if selectedTransfer != "" {
			result = types.ResultAcceptance
		} else {
			result = types.ResultTransferSyntaxesNotSupported
		}
	}

	logger.Debug("Presentation context negotiation result",
		"context_id", ctxID,
		"abstract_syntax", abstractSyntax,
		"proposed_transfer_syntaxes", transferSyntaxes,
		"selected_transfer_syntax", selectedTransfer,
		"result", result)

	return &PresentationContext{
		ID:             ctxID,
		Result:         result,
		AbstractSyntax: abstractSyntax,
		TransferSyntax: selectedTransfer,
	}, nil
}

func parseUserInformation(data []byte) (uint32, error) {
	offset := 0
	var maxPDULength uint32

	for offset+4 <= len(data) {
		subItemType := data[offset]
		subItemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(subItemLength)
		if valueEnd > len(data) {
			return 0, fmt.Errorf("user information sub-item exceeds length")
		}

		if subItemType == types.ItemMaximumLength && subItemLength == 4 {
			maxPDULength = binary.BigEndian.Uint32(data[valueStart:valueEnd])
		}

		offset = valueEnd
	}

	return maxPDULength, nil
}

// NewLayer creates a new PDU layer handler
func NewLayer(conn net.Conn, dimseHandler interfaces.DIMSEHandler, serverAETitle string, opts ...LayerOption) *Layer {
	l := &Layer{
		conn:          conn,
		dimseHandler:  dimseHandler,
		serverAETitle: serverAETitle,
		maxPDULength:  types.DefaultMaxPDULength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HandleConnection manages the complete DICOM connection lifecycle
func (p *Layer) HandleConnection() error {
	defer p.conn.Close()
	p.logger.Debug("New DICOM connection", "remote_addr", p.conn.RemoteAddr())

	if err := p.handleAssociationPhase(); err != nil {
		return fmt.Errorf("association failed: %w", err)
	}

	for {
		pdu, err := p.readPDU()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Debug("Connection closed by peer", "remote_addr", p.conn.RemoteAddr())
				return nil
			}
			return fmt.Errorf("error reading PDU: %w", err)
		}

		if err := p.handlePDU(pdu); err != nil {
			if errors.Is(err, io.EOF) {
				return nil // Normal termination
			}
			p.abort()
			return fmt.Errorf("error handling PDU: %w", err)
		}
	}
}

// readPDU reads a complete PDU from the connection
func (p *Layer) readPDU() (*PDU, error) {
	if p.readTimeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	pduData := make([]byte, pduLength)
	if _, err := io.ReadFull(p.conn, pduData); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   pduData,
	}, nil
}

func (p *Layer) write(data []byte) error {
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	_, err := p.conn.Write(data)
	return err
}

// handlePDU routes PDUs to appropriate handlers
func (p *Layer) handlePDU(pdu *PDU) error {
	switch pdu.Type {
	case types.TypePDataTF:
		return p.handlePDataTF(pdu)
	case types.TypeReleaseRQ:
		return p.handleReleaseRequest()
	case types.TypeAbort:
		p.logger.Info("Received A-ABORT", "remote_addr", p.conn.RemoteAddr())
		return io.EOF
	default:
		return dicomerrors.NewPDUError(pdu.Type, "unexpected PDU type after association")
	}
}

// handleAssociationPhase handles the association establishment
func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU()
	if err != nil {
		return fmt.Errorf("failed to read association request: %w", err)
	}

	if pdu.Type != types.TypeAssociateRQ {
		return dicomerrors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}

	return p.handleAssociateRequest(pdu)
}

// handleAssociateRequest answers A-ASSOCIATE-RQ with AC or RJ
func (p *Layer) handleAssociateRequest(pdu *PDU) error {
	p.associationCtx = &AssociationContext{
		MaxPDULength:     types.DefaultMaxPDULength,
		PresentationCtxs: make(map[byte]*PresentationContext),
	}

	if err := p.parseAssociationRequest(pdu); err != nil {
		p.reject(dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonNoReasonGiven)
		return err
	}

	if p.strictCalledAE && p.associationCtx.CalledAETitle != p.serverAETitle {
		p.logger.Warn("Rejecting association for unknown called AE title",
			"called_ae", p.associationCtx.CalledAETitle,
			"calling_ae", p.associationCtx.CallingAETitle)
		p.reject(dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonCalledAETitleNotRecognized)
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized, p.associationCtx.CalledAETitle)
	}

	if err := p.write(p.createAssociateAccept()); err != nil {
		return fmt.Errorf("failed to send A-ASSOCIATE-AC: %w", err)
	}

	p.logger.Debug("Sent A-ASSOCIATE-AC")
	return nil
}

// reject sends a permanent A-ASSOCIATE-RJ
func (p *Layer) reject(source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) {
	rj := []byte{types.TypeAssociateRJ, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x01, byte(source), byte(reason)}
	if err := p.write(rj); err != nil {
		p.logger.Warn("Failed to send A-ASSOCIATE-RJ", "error", err)
	}
}

func (p *Layer) abort() {
	// Source 0x02 service-provider, reason 0x00 not specified
	_ = p.write([]byte{types.TypeAbort, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x02, 0x00})
}

// handlePDataTF forwards every PDV of a P-DATA-TF to the DIMSE layer
func (p *Layer) handlePDataTF(pdu *PDU) error {
	offset := 0
	for offset < len(pdu.Data) {
		if offset+6 > len(pdu.Data) {
			return dicomerrors.NewPDUError(pdu.Type, "P-DATA-TF too short")
		}

		pdvLength := binary.BigEndian.Uint32(pdu.Data[offset : offset+4])
		end := offset + 4 + int(pdvLength)
		if pdvLength < 2 || end > len(pdu.Data) {
			return dicomerrors.NewPDUError(pdu.Type, "incomplete PDV data")
		}

		presContextID := pdu.Data[offset+4]
		msgCtrlHeader := pdu.Data[offset+5]

		if err := p.dimseHandler.HandleDIMSEMessage(presContextID, msgCtrlHeader, pdu.Data[offset+6:end], p); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

// handleReleaseRequest processes A-RELEASE-RQ and sends A-RELEASE-RP
func (p *Layer) handleReleaseRequest() error {
	response := []byte{types.TypeReleaseRP, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}

	if err := p.write(response); err != nil {
		return fmt.Errorf("failed to send A-RELEASE-RP: %w", err)
	}

	p.logger.Debug("Sent A-RELEASE-RP")
	return io.EOF
}

// SendDIMSEResponse sends a DIMSE response via P-DATA-TF
func (p *Layer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	return p.SendDIMSEResponseWithDataset(presContextID, commandData, nil)
}

// SendDIMSEResponseWithDataset sends a DIMSE response with optional dataset,
// fragmented to the peer's maximum PDU length
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	maxPDU := uint32(types.DefaultMaxPDULength)
	if p.associationCtx != nil && p.associationCtx.MaxPDULength > 0 {
		maxPDU = p.associationCtx.MaxPDULength
	}
	return dimse.SendDIMSEMessage(p.conn, presContextID, maxPDU, commandData, datasetData)
}

// GetTransferSyntax returns the negotiated transfer syntax for the given presentation context.
func (p *Layer) GetTransferSyntax(presContextID byte) (string, error) {
	if p.associationCtx == nil {
		return "", fmt.Errorf("association context not initialized")
	}

	ctx, ok := p.associationCtx.PresentationCtxs[presContextID]
	if !ok || ctx.Result != types.ResultAcceptance {
		return "", fmt.Errorf("presentation context %d not accepted", presContextID)
	}

	return ctx.TransferSyntax, nil
}

// AETitles returns the calling and called AE titles of the association.
func (p *Layer) AETitles() (string, string) {
	if p.associationCtx == nil {
		return "", p.serverAETitle
	}
	return p.associationCtx.CallingAETitle, p.associationCtx.CalledAETitle
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// createAssociateAccept creates an A-ASSOCIATE-AC PDU
func (p *Layer) createAssociateAccept() []byte {
	// Fixed fields (68 bytes)
	fixedFields := make([]byte, 68)
	binary.BigEndian.PutUint16(fixedFields[0:2], 0x0001) // Protocol version
	copy(fixedFields[4:20], fmt.Sprintf("%-16.16s", p.associationCtx.CalledAETitle))
	copy(fixedFields[20:36], fmt.Sprintf("%-16.16s", p.associationCtx.CallingAETitle))

	variableItems := appendItem(nil, types.ItemApplicationContext, []byte(types.ApplicationContextUID))

	contextIDs := make([]int, 0, len(p.associationCtx.PresentationCtxs))
	for id := range p.associationCtx.PresentationCtxs {
		contextIDs = append(contextIDs, int(id))
	}
	sort.Ints(contextIDs)

	for _, id := range contextIDs {
		ctx := p.associationCtx.PresentationCtxs[byte(id)]

		// Some peers (DCMTK/Orthanc) refuse an A-ASSOCIATE-AC listing rejected
		// contexts, so only accepted ones are returned.
		if ctx.Result != types.ResultAcceptance {
			continue
		}

		item := []byte{ctx.ID, 0x00, ctx.Result, 0x00}
		item = appendItem(item, types.ItemTransferSyntax, []byte(ctx.TransferSyntax))
		variableItems = appendItem(variableItems, types.ItemPresentationContextAC, item)
	}

	userInfo := appendItem(nil, types.ItemMaximumLength, binary.BigEndian.AppendUint32(nil, p.maxPDULength))
	userInfo = appendItem(userInfo, types.ItemImplementationClassUID, []byte(types.ImplementationClassUID))
	userInfo = appendItem(userInfo, types.ItemImplementationVersionName, []byte(types.ImplementationVersionName))
	variableItems = appendItem(variableItems, types.ItemUserInformation, userInfo)

	pduData := append(fixedFields, variableItems...)

	out := []byte{types.TypeAssociateAC, 0x00}
	out = binary.BigEndian.AppendUint32(out, uint32(len(pduData)))
	return append(out, pduData...)
}

func trimAETitle(raw []byte) string {
	title := string(raw)
	if idx := strings.IndexByte(title, 0); idx != -1 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}

// parseAssociationRequest parses an A-ASSOCIATE-RQ PDU to extract presentation contexts and AE titles
func (p *Layer) parseAssociationRequest(pdu *PDU) error {
	if len(pdu.Data) < 68 { // Fixed fields of A-ASSOCIATE-RQ
		return dicomerrors.NewPDUError(pdu.Type, "association request too short")
	}

	data := pdu.Data
	p.associationCtx.CalledAETitle = trimAETitle(data[4:20])
	p.associationCtx.CallingAETitle = trimAETitle(data[20:36])

	offset := 68
	var proposedContexts, acceptedContexts int

	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return dicomerrors.NewPDUError(pdu.Type, "association item exceeds PDU length")
		}
		itemData := data[valueStart:valueEnd]

		switch itemType {
		case types.ItemPresentationContextRQ:
			proposedContexts++
			ctx, err := parsePresentationContext(itemData, p.logger)
			if err != nil {
				p.logger.Warn("Failed to parse presentation context", "error", err)
				break
			}
			p.associationCtx.PresentationCtxs[ctx.ID] = ctx
			if ctx.Result == types.ResultAcceptance {
				acceptedContexts++
			}
		case types.ItemUserInformation:
			if maxPDULength, err := parseUserInformation(itemData); err != nil {
				p.logger.Warn("Failed to parse user information", "error", err)
			} else if maxPDULength > 0 {
				p.associationCtx.MaxPDULength = maxPDULength
			}
		}

		offset = valueEnd
	}

	p.logger.Info("Association negotiated",
		"calling_ae", p.associationCtx.CallingAETitle,
		"called_ae", p.associationCtx.CalledAETitle,
		"proposed", proposedContexts,
		"accepted", acceptedContexts,
		"max_pdu_length", p.associationCtx.MaxPDULength)

	return nil
}
