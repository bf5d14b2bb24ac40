package radio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// RYLR896 AT 指令模块的最大负载
const rylrMaxPayload = 240

// RYLR896 drives a REYAX RYLR896 LoRa modem over its UART AT command set.
// The modem filters CRC errors itself, so every frame it reports is CRC-good.
type RYLR896 struct {
	port       io.ReadWriteCloser
	mu         sync.Mutex // 同一时间只有一条指令在途
	resp       chan string
	rx         chan RxPacket
	done       chan struct{}
	cmdTimeout time.Duration
	channel    ChannelConfig
}

// OpenRYLR896 opens the serial device and starts the line reader
func OpenRYLR896(device string, baudRate int) (*RYLR896, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}

	return NewRYLR896(port), nil
}

// NewRYLR896 wraps an already open port
func NewRYLR896(port io.ReadWriteCloser) *RYLR896 {
	m := &RYLR896{
		port:       port,
		resp:       make(chan string, 1),
		rx:         make(chan RxPacket, 16),
		done:       make(chan struct{}),
		cmdTimeout: 10 * time.Second,
	}
	go m.readLoop()
	return m
}

func (m *RYLR896) readLoop() {
	defer close(m.done)

	reader := bufio.NewReader(m.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Msg("RYLR896 串口读取失败")
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if payload, ok := strings.CutPrefix(line, "+RCV="); ok {
			pkt, err := parseRCV(payload)
			if err != nil {
				log.Warn().Err(err).Str("line", line).Msg("RYLR896 丢弃无法解析的接收数据")
				continue
			}
			select {
			case m.rx <- pkt:
			default:
				log.Warn().Msg("RYLR896 接收缓冲已满，丢弃数据包")
			}
			continue
		}

		select {
		case m.resp <- line:
		default:
			log.Debug().Str("line", line).Msg("RYLR896 unsolicited output")
		}
	}
}

// parseRCV parses "<addr>,<len>,<data>,<rssi>,<snr>"; data may itself contain commas
func parseRCV(payload string) (RxPacket, error) {
	var pkt RxPacket

	i := strings.IndexByte(payload, ',')
	if i < 0 {
		return pkt, fmt.Errorf("missing address")
	}
	rest := payload[i+1:]

	j := strings.IndexByte(rest, ',')
	if j < 0 {
		return pkt, fmt.Errorf("missing length")
	}
	n, err := strconv.Atoi(rest[:j])
	if err != nil || n < 0 {
		return pkt, fmt.Errorf("invalid length %q", rest[:j])
	}
	rest = rest[j+1:]

	if len(rest) < n+1 || rest[n] != ',' {
		return pkt, fmt.Errorf("short data")
	}
	pkt.Payload = []byte(rest[:n])

	tail := strings.Split(rest[n+1:], ",")
	if len(tail) != 2 {
		return pkt, fmt.Errorf("missing rssi/snr")
	}
	if pkt.RSSI, err = strconv.ParseFloat(tail[0], 64); err != nil {
		return pkt, fmt.Errorf("invalid rssi: %w", err)
	}
	if pkt.SNR, err = strconv.ParseFloat(tail[1], 64); err != nil {
		return pkt, fmt.Errorf("invalid snr: %w", err)
	}

	pkt.CRCOk = true
	return pkt, nil
}

// command writes one AT command and waits for +OK or +ERR=<code>
func (m *RYLR896) command(format string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := fmt.Sprintf(format, args...)

	// 清掉上一条指令遗留的应答
	select {
	case <-m.resp:
	default:
	}

	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}

	select {
	case line := <-m.resp:
		if strings.HasPrefix(line, "+OK") {
			return nil
		}
		if code, ok := strings.CutPrefix(line, "+ERR="); ok {
			return fmt.Errorf("%s: modem error %s", cmd, code)
		}
		return fmt.Errorf("%s: unexpected response %q", cmd, line)
	case <-m.done:
		return ErrClosed
	case <-time.After(m.cmdTimeout):
		return fmt.Errorf("%s: timeout after %s", cmd, m.cmdTimeout)
	}
}

func rylrBandwidth(bw uint32) (int, error) {
	switch bw {
	case 125000:
		return 7, nil
	case 250000:
		return 8, nil
	case 500000:
		return 9, nil
	}
	return 0, fmt.Errorf("unsupported bandwidth %d", bw)
}

func (m *RYLR896) setParameters(freq uint32, sf int, bw uint32, cr int, preamble int) error {
	bwIdx, err := rylrBandwidth(bw)
	if err != nil {
		return err
	}
	if cr < 5 || cr > 8 {
		return fmt.Errorf("unsupported coding rate 4/%d", cr)
	}

	// 模块只接受 4..7 的前导码参数
	if preamble < 4 {
		preamble = 4
	} else if preamble > 7 {
		preamble = 7
	}

	if err := m.command("AT+BAND=%d", freq); err != nil {
		return err
	}
	return m.command("AT+PARAMETER=%d,%d,%d,%d", sf, bwIdx, cr-4, preamble)
}

func (m *RYLR896) Configure(cfg ChannelConfig) error {
	if err := m.setParameters(cfg.Frequency, cfg.SpreadFactor, cfg.Bandwidth, cfg.CodingRate, cfg.Preamble); err != nil {
		return err
	}
	m.channel = cfg
	return nil
}

func (m *RYLR896) StartReceive() error {
	return m.command("AT+MODE=0")
}

func (m *RYLR896) Poll() (*RxPacket, bool, error) {
	select {
	case pkt := <-m.rx:
		return &pkt, true, nil
	default:
		return nil, false, nil
	}
}

func (m *RYLR896) Transmit(ctx context.Context, pkt TxPacket) error {
	if len(pkt.Payload) > rylrMaxPayload {
		return ErrPayloadTooLarge
	}

	if err := m.setParameters(pkt.Frequency, pkt.SpreadFactor, pkt.Bandwidth, pkt.CodingRate, pkt.Preamble); err != nil {
		return err
	}
	if pkt.Power > 0 {
		power := pkt.Power
		if power > 15 {
			power = 15
		}
		if err := m.command("AT+CRFOP=%d", power); err != nil {
			return err
		}
	}

	if err := m.command("AT+SEND=0,%d,%s", len(pkt.Payload), pkt.Payload); err != nil {
		return err
	}

	// +OK 只表示已进入发送队列，等待空中时间结束
	select {
	case <-time.After(pkt.TimeOnAir()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RYLR896) Close() error {
	return m.port.Close()
}
