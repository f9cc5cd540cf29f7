package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tve/vrlink/config"
)

// Message is an MQTT message with a topic and a JSON-encoded payload,
// isolating the gateway from the paho client's API and giving subscription
// hooks a generic type to carry.
type Message struct {
	Topic   string
	Payload interface{}
}

// mq is a handle onto a MQTT broker connection.
type mq struct {
	conn     mqtt.Client
	subHooks []subHook
	dedupMu  sync.Mutex
	dedup    map[uint64]time.Time
}

// subHook forwards a published message to a local channel instead of
// waiting for it to round-trip through the broker.
type subHook struct {
	topic  string
	ch     reflect.Value
	chElem reflect.Type
}

// newMQ connects to a broker and returns a new mq object. The connection is
// persistent, reconnecting on its own; subscriptions are not re-issued here
// since the gateway subscribes once at startup before entering its main loop.
func newMQ(conf config.MqttConfig, debug LogPrintf) (*mq, error) {
	if debug != nil {
		debug("Configuring MQTT: %+v", conf)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = "receiver-gw"
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}
	q := &mq{conn: conn, dedup: make(map[uint64]time.Time)}
	go q.gc()

	log.Printf("MQTT connected")
	return q, nil
}

// gc periodically discards de-dup entries old enough that no subscription
// handler is ever going to claim them.
func (q *mq) gc() {
	for {
		time.Sleep(time.Minute)
		q.dedupMu.Lock()
		tooOld := time.Now().Add(-10 * time.Minute)
		for h, t := range q.dedup {
			if t.Before(tooOld) {
				delete(q.dedup, h)
			}
		}
		q.dedupMu.Unlock()
	}
}

// Publish publishes a message and forwards it to any internal subscription
// hooks immediately, before it has round-tripped through the broker.
func (q *mq) Publish(topic string, payload interface{}) {
	payVal := reflect.Indirect(reflect.ValueOf(payload))
	for _, hook := range q.subHooks {
		if topic == hook.topic {
			chanMsg := reflect.Indirect(reflect.New(hook.chElem))
			chanMsg.FieldByName("Topic").SetString(topic)
			chanMsg.FieldByName("Payload").Set(payVal)
			hook.ch.Send(chanMsg)
		}
	}
	runtime.Gosched()

	jsonPayload, _ := json.Marshal(payload)
	q.conn.Publish(topic, 1, false, jsonPayload)
	q.dedupMu.Lock()
	q.dedup[hashMessage(topic, string(jsonPayload))] = time.Now()
	q.dedupMu.Unlock()
}

// Subscribe subscribes to an MQTT topic and ensures internal forwarding
// occurs as well, matching the dedup behavior Publish relies on.
func (q *mq) Subscribe(topic string, subChan interface{}) error {
	chanType := reflect.TypeOf(subChan)
	if chanType.Kind() != reflect.Chan {
		panic("subChan must be a channel")
	}
	chanElemType := chanType.Elem()
	if chanElemType.Kind() != reflect.Struct {
		panic("subChan element must be struct")
	}
	chanValue := reflect.ValueOf(subChan)

	q.subHooks = append(q.subHooks, subHook{topic, chanValue, chanElemType})

	handler := func(c mqtt.Client, m mqtt.Message) {
		payload := string(m.Payload())
		hash := hashMessage(topic, payload)
		q.dedupMu.Lock()
		_, dup := q.dedup[hash]
		delete(q.dedup, hash)
		q.dedupMu.Unlock()
		if dup {
			return
		}

		msg := reflect.New(chanElemType)
		jsonMsg := fmt.Sprintf(`{"Topic":%q, "Payload":%s}`, m.Topic(), payload)
		if err := json.Unmarshal([]byte(jsonMsg), msg.Interface()); err != nil {
			log.Printf("cannot json decode payload for %s: %s", m.Topic(), err)
		} else {
			chanValue.Send(reflect.Indirect(msg))
		}
	}

	if token := q.conn.Subscribe(topic, 1, handler); !token.WaitTimeout(2 * time.Second) {
		return token.Error()
	}
	return nil
}

func hashMessage(s ...string) uint64 {
	key := strings.Join(s, "ǂ")
	h := fnv.New64()
	h.Write([]byte(key))
	return h.Sum64()
}
